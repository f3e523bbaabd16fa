package domain

// Role — роль из внешнего провайдера идентичности.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
)

// Actor — кто выполняет операцию. Аутентификация происходит снаружи, ядро получает готовый claim.
type Actor struct {
	ID   int64
	Role Role
}

// IsAdmin сообщает, что у актора повышенная роль.
func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}
