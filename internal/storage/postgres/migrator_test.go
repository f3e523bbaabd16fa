package postgres

import (
	"strings"
	"testing"
	"testing/fstest"
)

func storefrontMigrationsForTest(t *testing.T) []migration {
	t.Helper()

	migrations, err := loadMigrationsFromFS(migrationsFS)
	if err != nil {
		t.Fatalf("embedded migrations must load: %v", err)
	}
	return migrations
}

func appliedFor(migrations ...migration) []appliedMigration {
	applied := make([]appliedMigration, 0, len(migrations))
	for _, m := range migrations {
		applied = append(applied, appliedMigration{Version: m.Version, Name: m.Name, Checksum: m.checksum()})
	}
	return applied
}

func TestEmbeddedMigrationsDescribeStorefrontSchema(t *testing.T) {
	t.Parallel()

	migrations := storefrontMigrationsForTest(t)
	if len(migrations) != 2 {
		t.Fatalf("expected 2 embedded migrations, got %d", len(migrations))
	}

	catalog, outbox := migrations[0], migrations[1]
	if catalog.label() != "0001_catalog_orders" || outbox.label() != "0002_outbox_timeline_idempotency" {
		t.Fatalf("unexpected migrations: %s, %s", catalog.label(), outbox.label())
	}

	for _, table := range []string{"products", "orders", "order_items"} {
		if !strings.Contains(catalog.UpSQL, "CREATE TABLE IF NOT EXISTS "+table) {
			t.Fatalf("%s must create %s", catalog.label(), table)
		}
		if !strings.Contains(catalog.DownSQL, "DROP TABLE IF EXISTS "+table) {
			t.Fatalf("%s must drop %s", catalog.label(), table)
		}
	}
	for _, table := range []string{"outbox_messages", "timeline_events", "idempotency_keys"} {
		if !strings.Contains(outbox.UpSQL, "CREATE TABLE IF NOT EXISTS "+table) {
			t.Fatalf("%s must create %s", outbox.label(), table)
		}
		if !strings.Contains(outbox.DownSQL, "DROP TABLE IF EXISTS "+table) {
			t.Fatalf("%s must drop %s", outbox.label(), table)
		}
	}

	// order_items ссылается на orders, поэтому удаляется первой.
	if strings.Index(catalog.DownSQL, "order_items") > strings.Index(catalog.DownSQL, "orders;") {
		t.Fatalf("order_items must be dropped before orders:\n%s", catalog.DownSQL)
	}
}

func TestParseMigrationFileName(t *testing.T) {
	t.Parallel()

	version, name, direction, err := parseMigrationFileName("0002_outbox_timeline_idempotency.down.sql")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if version != 2 || name != "outbox_timeline_idempotency" || direction != migrationDown {
		t.Fatalf("unexpected parse result: %d %q %q", version, name, direction)
	}

	for _, bad := range []string{
		"catalog.up.sql",
		"0001_catalog.sideways.sql",
		"0001_.up.sql",
		"abcd_catalog.up.sql",
		"0000_catalog.up.sql",
		"0001_catalog-orders.up.sql",
		"0001_catalog.up.txt",
	} {
		if _, _, _, err := parseMigrationFileName(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestLoadMigrationsFromFS_PairsAndSorts(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"sql/migrations/0010_refunds.up.sql":   {Data: []byte("CREATE TABLE refunds (id BIGINT);")},
		"sql/migrations/0010_refunds.down.sql": {Data: []byte("DROP TABLE refunds;")},
		"sql/migrations/0003_carts.up.sql":     {Data: []byte("  CREATE TABLE carts (id BIGINT);\n")},
		"sql/migrations/0003_carts.down.sql":   {Data: []byte("DROP TABLE carts;")},
		"sql/migrations/README.md":             {Data: []byte("ignored")},
	}

	migrations, err := loadMigrationsFromFS(fsys)
	if err != nil {
		t.Fatalf("loadMigrationsFromFS failed: %v", err)
	}
	if len(migrations) != 2 {
		t.Fatalf("expected 2 migrations, got %d", len(migrations))
	}
	if migrations[0].label() != "0003_carts" || migrations[1].label() != "0010_refunds" {
		t.Fatalf("unexpected order: %s, %s", migrations[0].label(), migrations[1].label())
	}
	if migrations[0].UpSQL != "CREATE TABLE carts (id BIGINT);" {
		t.Fatalf("script must be trimmed, got %q", migrations[0].UpSQL)
	}
}

func TestLoadMigrationsFromFS_Rejects(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		files fstest.MapFS
		want  string
	}{
		"missing down": {
			files: fstest.MapFS{
				"sql/migrations/0001_carts.up.sql": {Data: []byte("CREATE TABLE carts (id BIGINT);")},
			},
			want: "both up and down",
		},
		"empty body": {
			files: fstest.MapFS{
				"sql/migrations/0001_carts.up.sql":   {Data: []byte("   \n")},
				"sql/migrations/0001_carts.down.sql": {Data: []byte("DROP TABLE carts;")},
			},
			want: "empty",
		},
		"name mismatch": {
			files: fstest.MapFS{
				"sql/migrations/0001_carts.up.sql":    {Data: []byte("CREATE TABLE carts (id BIGINT);")},
				"sql/migrations/0001_baskets.down.sql": {Data: []byte("DROP TABLE carts;")},
			},
			want: "name mismatch",
		},
		"no files": {
			files: fstest.MapFS{
				"sql/migrations/.keep": {Data: []byte("")},
			},
			want: "no migration files",
		},
		"bad file name": {
			files: fstest.MapFS{
				"sql/migrations/carts.sql": {Data: []byte("SELECT 1;")},
			},
			want: "invalid migration",
		},
	}

	for name, tc := range cases {
		tc := tc
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			_, err := loadMigrationsFromFS(tc.files)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected %q in error, got %v", tc.want, err)
			}
		})
	}
}

func TestPlanMigrations(t *testing.T) {
	t.Parallel()

	all := storefrontMigrationsForTest(t)
	catalog, outbox := all[0], all[1]

	labels := func(plan []migration) string {
		out := make([]string, 0, len(plan))
		for _, m := range plan {
			out = append(out, m.label())
		}
		return strings.Join(out, ",")
	}

	cases := []struct {
		name      string
		applied   []appliedMigration
		direction migrationDirection
		steps     int
		want      string
	}{
		{"up from empty", nil, migrationUp, 0, "0001_catalog_orders,0002_outbox_timeline_idempotency"},
		{"up one step", nil, migrationUp, 1, "0001_catalog_orders"},
		{"up continues", appliedFor(catalog), migrationUp, 0, "0002_outbox_timeline_idempotency"},
		{"up when current", appliedFor(catalog, outbox), migrationUp, 0, ""},
		{"down newest first", appliedFor(catalog, outbox), migrationDown, 0, "0002_outbox_timeline_idempotency,0001_catalog_orders"},
		{"down one step", appliedFor(catalog, outbox), migrationDown, 1, "0002_outbox_timeline_idempotency"},
		{"down on empty", nil, migrationDown, 1, ""},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			plan, err := planMigrations(all, tc.applied, tc.direction, tc.steps)
			if err != nil {
				t.Fatalf("plan: %v", err)
			}
			if got := labels(plan); got != tc.want {
				t.Fatalf("plan = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestPlanMigrationsRejectsEditedMigration(t *testing.T) {
	t.Parallel()

	all := storefrontMigrationsForTest(t)
	applied := appliedFor(all[0])
	applied[0].Checksum = "deadbeef"

	_, err := planMigrations(all, applied, migrationUp, 0)
	if err == nil || !strings.Contains(err.Error(), "0001_catalog_orders was modified") {
		t.Fatalf("expected modified migration error, got %v", err)
	}
}

func TestPlanMigrationsUnknownVersion(t *testing.T) {
	t.Parallel()

	all := storefrontMigrationsForTest(t)
	applied := append(appliedFor(all...), appliedMigration{Version: 99, Name: "from_newer_build", Checksum: "x"})

	// Более новая сборка применила миграцию, о которой эта не знает: up ничего не делает.
	plan, err := planMigrations(all, applied, migrationUp, 0)
	if err != nil || len(plan) != 0 {
		t.Fatalf("expected empty up plan, got %v %v", plan, err)
	}
	if _, err := planMigrations(all, applied, migrationDown, 1); err == nil {
		t.Fatal("down must refuse to roll back an unknown version")
	}

	state := migrationState(all, applied)
	if state.Version != 99 || state.Applied != 3 || state.Pending != 0 {
		t.Fatalf("unexpected state: %+v", state)
	}
}
