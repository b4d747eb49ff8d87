package conf

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// validSettings returns a settings struct that passes validation, used as the
// baseline that individual tests then break one field at a time.
func validSettings() *Settings {
	return &Settings{
		Main: MainSettings{Name: "SkyHub", Timezone: "UTC"},
		WebServer: WebServerSettings{
			Enabled: true,
			Port:    "5000",
		},
		Database: DatabaseSettings{
			SQLite: SQLiteSettings{Enabled: true, Path: "skyhub.db"},
		},
		Facility: FacilitySettings{
			LT: LTSettings{
				Enabled:           true,
				Host:              "telescope.example.org",
				Port:              "8080",
				SiteLatitude:      28.762,
				SiteLongitude:     -17.872,
				Timeout:           45 * time.Second,
				RequestsPerMinute: 10,
			},
		},
		Search: SearchSettings{
			Enabled: true,
			OpenAI:  OpenAISettings{EmbeddingModel: "text-embedding-ada-002"},
			Milvus:  MilvusSettings{Address: "localhost:19530", Collection: "source_summaries"},
		},
		Archive: ArchiveSettings{
			Enabled: true,
			Folder:  "analysis_data",
			Target:  ArchiveTarget{Type: "local"},
		},
	}
}

func TestValidateSettingsValid(t *testing.T) {
	t.Parallel()

	require.NoError(t, ValidateSettings(validSettings()))
}

func TestValidateSettingsErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantMsg string
	}{
		{
			name:    "missing web server port",
			mutate:  func(s *Settings) { s.WebServer.Port = "" },
			wantMsg: "WebServer port is required",
		},
		{
			name:    "invalid web server port",
			mutate:  func(s *Settings) { s.WebServer.Port = "70000" },
			wantMsg: "between 1 and 65535",
		},
		{
			name: "both database backends enabled",
			mutate: func(s *Settings) {
				s.Database.MySQL.Enabled = true
				s.Database.MySQL.Host = "localhost"
				s.Database.MySQL.Database = "skyhub"
			},
			wantMsg: "only one database backend",
		},
		{
			name: "no database backend enabled",
			mutate: func(s *Settings) {
				s.Database.SQLite.Enabled = false
			},
			wantMsg: "no database backend enabled",
		},
		{
			name:    "sqlite without path",
			mutate:  func(s *Settings) { s.Database.SQLite.Path = "" },
			wantMsg: "SQLite database path is required",
		},
		{
			name:    "lt enabled without host",
			mutate:  func(s *Settings) { s.Facility.LT.Host = "" },
			wantMsg: "LT node agent host is required",
		},
		{
			name:    "lt latitude out of range",
			mutate:  func(s *Settings) { s.Facility.LT.SiteLatitude = 91 },
			wantMsg: "latitude must be between",
		},
		{
			name:    "search enabled without milvus address",
			mutate:  func(s *Settings) { s.Search.Milvus.Address = "" },
			wantMsg: "Milvus address is required",
		},
		{
			name:    "unsupported archive target",
			mutate:  func(s *Settings) { s.Archive.Target.Type = "s3" },
			wantMsg: "unsupported archive target type",
		},
		{
			name: "notification provider without urls",
			mutate: func(s *Settings) {
				s.Notification.Enabled = true
				s.Notification.Providers = []PushProviderConfig{{Name: "ops", Enabled: true}}
			},
			wantMsg: "has no URLs configured",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			settings := validSettings()
			tt.mutate(settings)

			err := ValidateSettings(settings)
			require.Error(t, err)

			var ve ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestGenerateRandomSecret(t *testing.T) {
	t.Parallel()

	secret := GenerateRandomSecret()
	require.NotEmpty(t, secret)

	// 32 bytes of entropy encode to 43 characters of unpadded base64
	assert.Len(t, secret, 43)

	decoded, err := base64.RawURLEncoding.DecodeString(secret)
	require.NoError(t, err)
	assert.Len(t, decoded, 32)

	// two calls must not collide
	assert.NotEqual(t, secret, GenerateRandomSecret())
}
