package config

import (
	"strings"
	"testing"

	"github.com/matryer/is"
	"github.com/rs/zerolog"
)

func TestLoadAppliesFileOverDefaults(t *testing.T) {
	is := is.New(t)

	yaml := `
storage:
  enabled: true
  batchSize: 50
apiServer:
  port: 9090
`
	cfg, err := Load(strings.NewReader(yaml), zerolog.Nop())
	is.NoErr(err)
	is.Equal(cfg.Storage.Enabled, true)
	is.Equal(cfg.Storage.BatchSize, 50)
	is.Equal(cfg.ApiServer.Port, 9090)
	is.Equal(cfg.Normalizer.HeartbeatTimeout, 120) // default retained when unset
}

func TestRedactHidesSecrets(t *testing.T) {
	is := is.New(t)

	cfg := *Default()
	cfg.Broker.Password = "hunter2"
	cfg.Database.Password = "hunter2"

	r := Redact(cfg)
	is.Equal(r.Broker.Password, Redacted)
	is.Equal(r.Database.Password, Redacted)
}

func TestLoadEmptyReaderReturnsDefaults(t *testing.T) {
	is := is.New(t)

	cfg, err := Load(strings.NewReader(""), zerolog.Nop())
	is.NoErr(err)
	is.Equal(cfg.ApiServer.Port, 8080)
}
