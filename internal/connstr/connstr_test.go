package connstr

import (
	"net/url"
	"testing"

	"github.com/microsoft/go-mssqldb/msdsn"
	"github.com/stretchr/testify/require"
)

func TestBuild(t *testing.T) {
	t.Parallel()

	got := Build(Credentials{Server: "sql01,1433", User: "sa", Password: "s3cret"}, "Sales")
	require.Equal(t,
		"Data Source=sql01,1433;Initial Catalog=Sales;User ID=sa;Password=s3cret;"+
			"Encrypt=True;TrustServerCertificate=True;Connection Timeout=30",
		got)
}

func TestBuildQuotesAwkwardValues(t *testing.T) {
	t.Parallel()

	got := Build(Credentials{Server: "sql01", User: "sa", Password: `p;a"ss`}, "Sales")
	require.Contains(t, got, `Password="p;a""ss";`)
}

func TestDatabase(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		conn string
		want string
	}{
		{"initial catalog", "Data Source=sql01;Initial Catalog=Sales;User ID=sa;Password=x", "Sales"},
		{"database key", "server=sql01;database=Inventory;user id=sa;password=x", "Inventory"},
		{"built", Build(Credentials{Server: "sql01", User: "sa", Password: "x"}, "Orders"), "Orders"},
		{"url form", "sqlserver://sa:x@sql01?database=Archive", "Archive"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := Database(tc.conn)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestDatabaseMissing(t *testing.T) {
	t.Parallel()

	_, err := Database("Data Source=sql01;User ID=sa;Password=x")
	require.ErrorIs(t, err, ErrNoDatabase)
}

func TestDriverDSN(t *testing.T) {
	t.Parallel()

	dsn := DriverDSN(Credentials{Server: `sql01\SQLEXPRESS`, User: "sa", Password: "p@ss;word"}, "master")
	u, err := url.Parse(dsn)
	require.NoError(t, err)
	require.Equal(t, "sqlserver", u.Scheme)
	require.Equal(t, "true", u.Query().Get("encrypt"))

	cfg, err := msdsn.Parse(dsn)
	require.NoError(t, err)
	require.Equal(t, "sql01", cfg.Host)
	require.Equal(t, "SQLEXPRESS", cfg.Instance)
	require.Equal(t, "sa", cfg.User)
	require.Equal(t, "p@ss;word", cfg.Password)
	require.Equal(t, "master", cfg.Database)

	withPort := DriverDSN(Credentials{Server: "tcp:sql02,14330", User: "sa"}, "")
	u, err = url.Parse(withPort)
	require.NoError(t, err)
	require.Equal(t, "sql02:14330", u.Host)
	require.Empty(t, u.Query().Get("database"))
}
