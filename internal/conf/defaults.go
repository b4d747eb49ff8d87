// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("main.name", "SkyHub")
	viper.SetDefault("main.timezone", "UTC")
	viper.SetDefault("main.log.enabled", true)
	viper.SetDefault("main.log.path", "skyhub.log")
	viper.SetDefault("main.log.rotation", RotationDaily)
	viper.SetDefault("main.log.maxsize", 1048576)
	viper.SetDefault("main.log.rotationday", time.Sunday)

	viper.SetDefault("webserver.enabled", true)
	viper.SetDefault("webserver.debug", false)
	viper.SetDefault("webserver.port", "5000")
	viper.SetDefault("webserver.publicurl", "http://localhost:5000")
	viper.SetDefault("webserver.log.enabled", false)
	viper.SetDefault("webserver.log.path", "webapi.log")
	viper.SetDefault("webserver.log.rotation", RotationDaily)
	viper.SetDefault("webserver.log.maxsize", 1048576)
	viper.SetDefault("webserver.log.rotationday", time.Sunday)

	viper.SetDefault("database.sqlite.enabled", true)
	viper.SetDefault("database.sqlite.path", "skyhub.db")

	viper.SetDefault("database.mysql.enabled", false)
	viper.SetDefault("database.mysql.username", "skyhub")
	viper.SetDefault("database.mysql.password", "secret")
	viper.SetDefault("database.mysql.database", "skyhub")
	viper.SetDefault("database.mysql.host", "localhost")
	viper.SetDefault("database.mysql.port", 3306)

	viper.SetDefault("security.debug", false)
	viper.SetDefault("security.encryptionkey", "")

	viper.SetDefault("facility.debug", false)
	viper.SetDefault("facility.lt.enabled", false)
	viper.SetDefault("facility.lt.host", "")
	viper.SetDefault("facility.lt.port", "8080")
	// Observatorio del Roque de los Muchachos, La Palma
	viper.SetDefault("facility.lt.sitelatitude", 28.762)
	viper.SetDefault("facility.lt.sitelongitude", -17.872)
	viper.SetDefault("facility.lt.timeout", 45*time.Second)
	viper.SetDefault("facility.lt.requestsperminute", 10)

	viper.SetDefault("search.enabled", false)
	viper.SetDefault("search.debug", false)
	viper.SetDefault("search.openai.apikey", "")
	viper.SetDefault("search.openai.baseurl", "")
	viper.SetDefault("search.openai.embeddingmodel", "text-embedding-ada-002")
	viper.SetDefault("search.openai.summarymodel", "gpt-4o-mini")
	viper.SetDefault("search.openai.summarize", false)
	viper.SetDefault("search.milvus.address", "localhost:19530")
	viper.SetDefault("search.milvus.collection", "source_summaries")
	viper.SetDefault("search.milvus.dimensions", 1536)
	viper.SetDefault("search.cachettl", 15*time.Minute)

	viper.SetDefault("archive.enabled", true)
	viper.SetDefault("archive.debug", false)
	viper.SetDefault("archive.folder", "analysis_data")
	viper.SetDefault("archive.target.type", "local")
	viper.SetDefault("archive.target.settings", map[string]interface{}{})

	viper.SetDefault("notification.enabled", false)
	viper.SetDefault("notification.debug", false)
	viper.SetDefault("notification.providers", []PushProviderConfig{})

	viper.SetDefault("realtime.mqtt.enabled", false)
	viper.SetDefault("realtime.mqtt.broker", "tcp://localhost:1883")
	viper.SetDefault("realtime.mqtt.topic", "skyhub")
	viper.SetDefault("realtime.mqtt.username", "skyhub")
	viper.SetDefault("realtime.mqtt.password", "secret")
	viper.SetDefault("realtime.mqtt.retain", false)

	viper.SetDefault("realtime.telemetry.enabled", false)
	viper.SetDefault("realtime.telemetry.listen", "0.0.0.0:8090")

	viper.SetDefault("sentry.enabled", false)
	viper.SetDefault("sentry.dsn", "")
	viper.SetDefault("sentry.environment", "production")
}
