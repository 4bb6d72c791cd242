package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != "8080" || cfg.EventsBackend != EventsRabbit || cfg.StockBackend != StockMongo {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if !cfg.AutoProcessOnPayment || cfg.GatewayMaxAttempts != 3 || cfg.GatewayTimeout != 10*time.Second {
		t.Fatalf("unexpected payment defaults %+v", cfg)
	}
	if cfg.GatewayBaseURL != "https://api.paychangu.com" || cfg.PaymentCurrency != "MWK" {
		t.Fatalf("unexpected gateway defaults %+v", cfg)
	}
}

func TestLoad_TypedOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("EVENTS_BACKEND", "Kafka")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("GATEWAY_TIMEOUT", "2500ms")
	t.Setenv("AUTO_PROCESS_ON_PAYMENT", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.EventsBackend != EventsKafka || len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "k2:9092" {
		t.Fatalf("unexpected kafka config %+v", cfg)
	}
	if cfg.GatewayTimeout != 2500*time.Millisecond || cfg.AutoProcessOnPayment {
		t.Fatalf("unexpected overrides %+v", cfg)
	}
}

func TestLoad_RejectsBadValues(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("GATEWAY_MAX_ATTEMPTS", "many")
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "GATEWAY_MAX_ATTEMPTS") {
		t.Fatalf("expected parse error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	cfg := &Config{EventsBackend: "carrier-pigeon", StockBackend: StockMySQL, GatewayMaxAttempts: 0, GatewayTimeout: time.Second}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation errors")
	}
	for _, want := range []string{"EVENTS_BACKEND", "MYSQL_DSN", "GATEWAY_MAX_ATTEMPTS"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("missing %s in %v", want, err)
		}
	}
}
