package database

import (
	"net/url"
	"testing"

	gomysql "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/require"
)

func TestBuildPostgresDSNDefaults(t *testing.T) {
	dsn, err := buildPostgresDSN(Config{User: "syncmeet", Name: "syncmeet"})
	require.NoError(t, err)
	require.Equal(t, "postgres://syncmeet@localhost:5432/syncmeet?TimeZone=UTC&sslmode=disable", dsn)
}

func TestBuildPostgresDSNWithOptions(t *testing.T) {
	dsn, err := buildPostgresDSN(Config{
		User:     "scheduler",
		Name:     "meetings",
		Host:     "db.example.com",
		Port:     6543,
		Password: "p@ss word",
		Options: map[string]string{
			"sslmode":     "require",
			"search_path": "public",
		},
	})
	require.NoError(t, err)

	parsed, err := url.Parse(dsn)
	require.NoError(t, err)
	require.Equal(t, "db.example.com:6543", parsed.Host)
	require.Equal(t, "/meetings", parsed.Path)
	require.Equal(t, "scheduler", parsed.User.Username())
	password, ok := parsed.User.Password()
	require.True(t, ok)
	require.Equal(t, "p@ss word", password)
	require.Equal(t, "require", parsed.Query().Get("sslmode"))
	require.Equal(t, "public", parsed.Query().Get("search_path"))
	require.Equal(t, "UTC", parsed.Query().Get("TimeZone"))
}

func TestBuildPostgresDSNRequiresUserAndName(t *testing.T) {
	_, err := buildPostgresDSN(Config{})
	require.Error(t, err)
}

func TestBuildMySQLDSNDefaults(t *testing.T) {
	dsn, err := buildMySQLDSN(Config{User: "syncmeet", Name: "syncmeet"})
	require.NoError(t, err)
	require.Equal(t, "syncmeet@tcp(127.0.0.1:3306)/syncmeet?parseTime=true&charset=utf8mb4", dsn)
}

func TestBuildMySQLDSNWithOptions(t *testing.T) {
	dsn, err := buildMySQLDSN(Config{
		User:     "scheduler",
		Password: "secret",
		Name:     "meetings",
		Host:     "db.example.com",
		Port:     3307,
		Options:  map[string]string{"timeout": "5s"},
	})
	require.NoError(t, err)

	parsed, err := gomysql.ParseDSN(dsn)
	require.NoError(t, err)
	require.Equal(t, "scheduler", parsed.User)
	require.Equal(t, "secret", parsed.Passwd)
	require.Equal(t, "db.example.com:3307", parsed.Addr)
	require.Equal(t, "meetings", parsed.DBName)
	require.True(t, parsed.ParseTime)
	require.Equal(t, "UTC", parsed.Loc.String())
	require.Contains(t, dsn, "charset=utf8mb4")
}

func TestBuildMySQLDSNRequiresUserAndName(t *testing.T) {
	_, err := buildMySQLDSN(Config{Host: "localhost"})
	require.Error(t, err)
}

func TestBuildDSNPrefersExplicitOverride(t *testing.T) {
	dsn, err := buildPostgresDSN(Config{DSN: "postgres://override"})
	require.NoError(t, err)
	require.Equal(t, "postgres://override", dsn)

	dsn, err = buildMySQLDSN(Config{DSN: "root@/override"})
	require.NoError(t, err)
	require.Equal(t, "root@/override", dsn)
}
