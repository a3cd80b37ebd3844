package config

import (
	"time"
)

// Version defines the ChirpStack End Device version.
var Version string

// Config defines the configuration structure.
type Config struct {
	General struct {
		LogLevel    int  `mapstructure:"log_level"`
		LogToSyslog bool `mapstructure:"log_to_syslog"`
	} `mapstructure:"general"`

	Storage struct {
		Type      string `mapstructure:"type"`
		Namespace string `mapstructure:"namespace"`

		Redis struct {
			Servers    []string `mapstructure:"servers"`
			URL        string   `mapstructure:"url"`
			Cluster    bool     `mapstructure:"cluster"`
			MasterName string   `mapstructure:"master_name"`
			PoolSize   int      `mapstructure:"pool_size"`
			Password   string   `mapstructure:"password"`
			Database   int      `mapstructure:"database"`
			TLSEnabled bool     `mapstructure:"tls_enabled"`
			KeyPrefix  string   `mapstructure:"key_prefix"`
		} `mapstructure:"redis"`

		PostgreSQL struct {
			DSN                string `mapstructure:"dsn"`
			Automigrate        bool   `mapstructure:"automigrate"`
			MaxOpenConnections int    `mapstructure:"max_open_connections"`
			MaxIdleConnections int    `mapstructure:"max_idle_connections"`
		} `mapstructure:"postgresql"`
	} `mapstructure:"storage"`

	Device struct {
		Band            string `mapstructure:"band"`
		HardwareAddress string `mapstructure:"hardware_address"`
		RSSICal         int8   `mapstructure:"rssi_cal"`
		SubBand         int    `mapstructure:"sub_band"`
		EnabledChannels []int  `mapstructure:"enabled_channels"`

		Pins struct {
			Enabled bool   `mapstructure:"enabled"`
			SPIPort string `mapstructure:"spi_port"`
			NSS     string `mapstructure:"nss"`
			RXTX    string `mapstructure:"rxtx"`
			RST     string `mapstructure:"rst"`
			DIO0    string `mapstructure:"dio0"`
			DIO1    string `mapstructure:"dio1"`
		} `mapstructure:"pins"`

		Credentials struct {
			DevEUI  string `mapstructure:"dev_eui"`
			AppEUI  string `mapstructure:"app_eui"`
			AppKey  string `mapstructure:"app_key"`
			Persist bool   `mapstructure:"persist"`
			FromMAC bool   `mapstructure:"from_mac"`
		} `mapstructure:"credentials"`

		Uplink struct {
			Interval  time.Duration `mapstructure:"interval"`
			Port      uint8         `mapstructure:"port"`
			Confirmed bool          `mapstructure:"confirmed"`
			Payload   string        `mapstructure:"payload"`
		} `mapstructure:"uplink"`
	} `mapstructure:"device"`

	Provisioning struct {
		Listener bool   `mapstructure:"listener"`
		Wait     bool   `mapstructure:"wait"`
		Channel  string `mapstructure:"channel"`

		Serial struct {
			Port     string `mapstructure:"port"`
			BaudRate int    `mapstructure:"baud_rate"`
		} `mapstructure:"serial"`

		MQTT struct {
			Server        string `mapstructure:"server"`
			Username      string `mapstructure:"username"`
			Password      string `mapstructure:"password"`
			QOS           uint8  `mapstructure:"qos"`
			ClientID      string `mapstructure:"client_id"`
			CommandTopic  string `mapstructure:"command_topic"`
			ResponseTopic string `mapstructure:"response_topic"`
		} `mapstructure:"mqtt"`

		AMQP struct {
			URL                string `mapstructure:"url"`
			CommandQueueName   string `mapstructure:"command_queue_name"`
			ResponseExchange   string `mapstructure:"response_exchange"`
			ResponseRoutingKey string `mapstructure:"response_routing_key"`
		} `mapstructure:"amqp"`
	} `mapstructure:"provisioning"`

	Simulator struct {
		JoinAttempts     int           `mapstructure:"join_attempts"`
		ConfirmedRetries int           `mapstructure:"confirmed_retries"`
		DutyCycle        float64       `mapstructure:"duty_cycle"`
		DataRate         int           `mapstructure:"data_rate"`
		RXWindow         time.Duration `mapstructure:"rx_window"`
		TimeScale        float64       `mapstructure:"time_scale"`
		JoinAccept       bool          `mapstructure:"join_accept"`
		Echo             bool          `mapstructure:"echo"`
	} `mapstructure:"simulator"`

	Monitoring struct {
		Bind                string `mapstructure:"bind"`
		PrometheusEndpoint  bool   `mapstructure:"prometheus_endpoint"`
		HealthcheckEndpoint bool   `mapstructure:"healthcheck_endpoint"`
	} `mapstructure:"monitoring"`
}

// C holds the global configuration.
var C Config
