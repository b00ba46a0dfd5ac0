package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"
	_ "time/tzdata" // zone names must resolve on hosts without a zoneinfo database

	"gopkg.in/yaml.v3"

	"github.com/shaharia-lab/notifyd/internal/notification"
)

// RoutingConfig is the YAML routing file: who receives administrative mail
// and which links the messages carry. Values may reference environment
// variables as ${VAR}.
type RoutingConfig struct {
	AppName         string       `yaml:"app_name"`
	AdminAddresses  []string     `yaml:"admin_addresses"`
	OperatorMailbox string       `yaml:"operator_mailbox"`
	TimeZone        string       `yaml:"time_zone"`
	Links           RoutingLinks `yaml:"links"`
}

// RoutingLinks are the URLs and support address embedded in messages.
type RoutingLinks struct {
	Login           string `yaml:"login"`
	SupportEmail    string `yaml:"support_email"`
	Dashboard       string `yaml:"dashboard"`
	PendingVehicles string `yaml:"pending_vehicles"`
	Vehicles        string `yaml:"vehicles"`
	Reports         string `yaml:"reports"`
}

// DefaultRouting returns the routing used when no file exists.
func DefaultRouting() RoutingConfig {
	return RoutingConfig{
		AppName:  "Constat Tunisie",
		TimeZone: "Africa/Tunis",
		Links: RoutingLinks{
			Login:           "https://constat-tunisie.app/login",
			SupportEmail:    "support@constat-tunisie.app",
			Dashboard:       "https://constat-tunisie.app/admin/requests",
			PendingVehicles: "https://constat-tunisie.app/agent/vehicles/pending",
			Vehicles:        "https://constat-tunisie.app/conducteur/vehicles",
			Reports:         "https://constat-tunisie.app/agent/constats",
		},
	}
}

// LoadRouting reads the routing file at filePath over the defaults. If the
// file does not exist the defaults are returned (not an error).
func LoadRouting(filePath string) (RoutingConfig, error) {
	rc := DefaultRouting()

	data, err := os.ReadFile(filePath) //nolint:gosec // path is from admin-configured data dir
	if err != nil {
		if os.IsNotExist(err) {
			return rc, nil
		}
		return RoutingConfig{}, fmt.Errorf("reading routing file %q: %w", filePath, err)
	}

	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &rc); err != nil {
		return RoutingConfig{}, fmt.Errorf("parsing routing file %q: %w", filePath, err)
	}
	return rc, nil
}

// RouterConfig validates rc and converts it for notification.NewRouter.
// fallbackMailbox is used as the operator mailbox when none is configured.
func (rc RoutingConfig) RouterConfig(fallbackMailbox string) (notification.RouterConfig, error) {
	var missing []string
	for name, v := range map[string]string{
		"app_name":               rc.AppName,
		"links.login":            rc.Links.Login,
		"links.support_email":    rc.Links.SupportEmail,
		"links.dashboard":        rc.Links.Dashboard,
		"links.pending_vehicles": rc.Links.PendingVehicles,
		"links.vehicles":         rc.Links.Vehicles,
		"links.reports":          rc.Links.Reports,
	} {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return notification.RouterConfig{}, fmt.Errorf("routing: missing %s", strings.Join(missing, ", "))
	}

	loc := time.UTC
	if rc.TimeZone != "" {
		l, err := time.LoadLocation(rc.TimeZone)
		if err != nil {
			return notification.RouterConfig{}, fmt.Errorf("routing: time zone %q: %w", rc.TimeZone, err)
		}
		loc = l
	}

	mailbox := rc.OperatorMailbox
	if mailbox == "" {
		mailbox = fallbackMailbox
	}
	if len(rc.AdminAddresses) == 0 && mailbox == "" {
		return notification.RouterConfig{}, errors.New("routing: admin_addresses or operator_mailbox is required")
	}

	return notification.RouterConfig{
		AppName:            rc.AppName,
		AdminAddresses:     rc.AdminAddresses,
		OperatorMailbox:    mailbox,
		LoginURL:           rc.Links.Login,
		SupportEmail:       rc.Links.SupportEmail,
		DashboardURL:       rc.Links.Dashboard,
		PendingVehiclesURL: rc.Links.PendingVehicles,
		VehiclesURL:        rc.Links.Vehicles,
		ReportsURL:         rc.Links.Reports,
		Location:           loc,
	}, nil
}
