package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rtm0/era5-anomaly/internal/cds"
)

// Credentials locate and authenticate the CDS API.
type Credentials struct {
	URL string `yaml:"url"`
	Key string `yaml:"key"`
}

// LoadCredentials reads CDSAPI_URL and CDSAPI_KEY, falling back to the
// .cdsapirc file named by CDSAPI_RC or found in the home directory.
func LoadCredentials() (Credentials, error) {
	c := Credentials{
		URL: os.Getenv("CDSAPI_URL"),
		Key: os.Getenv("CDSAPI_KEY"),
	}
	if c.Key == "" {
		path := os.Getenv("CDSAPI_RC")
		if path == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return Credentials{}, err
			}
			path = filepath.Join(home, ".cdsapirc")
		}
		rc, err := readRC(path)
		if err != nil {
			return Credentials{}, err
		}
		if c.URL == "" {
			c.URL = rc.URL
		}
		c.Key = rc.Key
	}
	if c.URL == "" {
		c.URL = cds.DefaultURL
	}
	if c.Key == "" {
		return Credentials{}, errors.New("CDS API key is not set: use CDSAPI_KEY or ~/.cdsapirc")
	}
	return c, nil
}

// readRC parses a .cdsapirc file; its "url: ..." and "key: ..." lines are
// valid YAML.
func readRC(path string) (Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Credentials{}, fmt.Errorf("read CDS credentials: %w", err)
	}
	var c Credentials
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Credentials{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return c, nil
}

// Kafka holds the optional report sink settings.
type Kafka struct {
	Brokers []string
	Topic   string
}

// Enabled reports whether reports are to be published.
func (k Kafka) Enabled() bool {
	return len(k.Brokers) > 0
}

// LoadKafka reads KAFKA_BROKERS and KAFKA_REPORT_TOPIC. Publishing is off
// when no brokers are set.
func LoadKafka() (Kafka, error) {
	k := Kafka{
		Brokers: ParseBrokers(os.Getenv("KAFKA_BROKERS")),
		Topic:   envOrDefault("KAFKA_REPORT_TOPIC", "era5-anomaly-reports"),
	}
	if k.Enabled() && k.Topic == "" {
		return Kafka{}, errors.New("KAFKA_REPORT_TOPIC is required")
	}
	return k, nil
}

// ParseBrokers splits a comma separated broker list, dropping empty entries.
func ParseBrokers(s string) []string {
	var brokers []string
	for _, b := range strings.Split(s, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

func envOrDefault(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}
