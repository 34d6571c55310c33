// Package container wires the service together with samber/do.
package container

import (
	"errors"
)

// ErrRedisDisabled is returned when a component needs redis but no address was configured.
var ErrRedisDisabled = errors.New("redis disabled: no address configured")

// Options configures the server. humacli also reads them from SERVICE_* environment variables.
type Options struct {
	Port          int    `default:"8000"                           help:"Port to listen on"                          short:"p"`
	GitHubToken   string `help:"GitHub token used for GraphQL queries"   name:"github-token"`
	GitHubAPI     string `default:"https://api.github.com/graphql" help:"GitHub GraphQL endpoint"                    name:"github-api"`
	Store         string `default:"sqlite"                         help:"Window store: sqlite, postgres or memory"`
	Database      string `default:"db.sqlite3"                     help:"SQLite database path"                       short:"d"`
	DatabaseURL   string `help:"PostgreSQL connection string"            name:"database-url"`
	RedisAddr     string `help:"Redis address; empty disables redis"     name:"redis-addr"`
	LogFormat     string `default:"json"                           help:"Log format: json or console"`
	AllowedOrigin string `default:"https://ichard26.github.io"     help:"Origin allowed by CORS"`
	HourlyLimit   int    `default:"25"                             help:"Lookups allowed per hour"`
	DailyLimit    int    `default:"100"                            help:"Lookups allowed per day"`
	MaxWindows    int    `default:"5000"                           help:"Rate limit windows kept before pruning"`
}
