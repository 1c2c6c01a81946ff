package config

import (
	"reflect"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("HTTP_ADDR", "")
	t.Setenv("SHIPPING_FLAT_RATE", "")
	t.Setenv("WOMPI_EVENTS_SECRET", "")

	cfg := Load()

	if cfg.HTTPAddr != ":8081" {
		t.Errorf("HTTPAddr default: %s", cfg.HTTPAddr)
	}
	if cfg.ShippingRate != 0 {
		t.Errorf("ShippingRate default: %v", cfg.ShippingRate)
	}
	if cfg.WompiEventsSecret != "" {
		t.Errorf("WompiEventsSecret must have no default, got %q", cfg.WompiEventsSecret)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9000")
	t.Setenv("SHIPPING_FLAT_RATE", "15.5")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092 ,")
	t.Setenv("WOMPI_EVENTS_SECRET", "s3cr3t")

	cfg := Load()

	if cfg.HTTPAddr != ":9000" {
		t.Errorf("HTTPAddr: %s", cfg.HTTPAddr)
	}
	if cfg.ShippingRate != 15.5 {
		t.Errorf("ShippingRate: %v", cfg.ShippingRate)
	}
	if want := []string{"k1:9092", "k2:9092"}; !reflect.DeepEqual(cfg.KafkaBrokers, want) {
		t.Errorf("KafkaBrokers: %v", cfg.KafkaBrokers)
	}
	if cfg.WompiEventsSecret != "s3cr3t" {
		t.Errorf("WompiEventsSecret: %s", cfg.WompiEventsSecret)
	}
}

func TestLoad_BadFloatFallsBack(t *testing.T) {
	t.Setenv("SHIPPING_FLAT_RATE", "not-a-number")

	if got := Load().ShippingRate; got != 0 {
		t.Errorf("expected fallback 0, got %v", got)
	}
}
