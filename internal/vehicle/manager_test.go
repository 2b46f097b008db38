package vehicle

import (
	"errors"
	"testing"

	"github.com/evbridge/tesla-ble-bridge/internal/infrastructure/config"
)

func multiVehicleConfig() *config.Config {
	return &config.Config{
		Vehicles: []config.VehicleConfig{
			{VIN: "5YJ3AAA", Host: "esp-a", Port: 6053},
			{VIN: "5yj3bbb", Host: "esp-b", Port: 6053},
		},
	}
}

func TestManagerGetByVIN(t *testing.T) {
	m := NewManager(multiVehicleConfig())
	defer m.Close()

	s, err := m.Get("5YJ3AAA")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if s.ID() != "5YJ3AAA" {
		t.Errorf("ID() = %q", s.ID())
	}

	// Case-insensitive match.
	s, err = m.Get("5yj3bbb")
	if err != nil {
		t.Fatalf("Get() lowercase error: %v", err)
	}
	if s.ID() != "5YJ3BBB" {
		t.Errorf("ID() = %q", s.ID())
	}

	if _, err := m.Get("5YJ3ZZZ"); !errors.Is(err, ErrUnknownVehicle) {
		t.Errorf("expected ErrUnknownVehicle, got %v", err)
	}
}

func TestManagerSingleVehicleAnswersAnyVIN(t *testing.T) {
	m := NewManager(&config.Config{
		Vehicles: []config.VehicleConfig{{Host: "esp32.local", Port: 6053}},
	})
	defer m.Close()

	for _, vin := range []string{"default", "", "5YJ3WHATEVER"} {
		s, err := m.Get(vin)
		if err != nil {
			t.Errorf("Get(%q) error: %v", vin, err)
			continue
		}
		if s.ID() != "default" {
			t.Errorf("Get(%q).ID() = %q", vin, s.ID())
		}
	}
}

func TestManagerListOrder(t *testing.T) {
	m := NewManager(multiVehicleConfig())
	defer m.Close()

	list := m.List()
	if len(list) != 2 {
		t.Fatalf("len = %d", len(list))
	}
	if list[0].ID() != "5YJ3AAA" || list[1].ID() != "5YJ3BBB" {
		t.Errorf("order = [%s, %s]", list[0].ID(), list[1].ID())
	}
}
