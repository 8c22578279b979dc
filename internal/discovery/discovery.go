// Package discovery announces the schedule query service over DNS-SD so
// MAC workers on the local network can find it without configuration.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/brutella/dnssd"

	"github.com/signalsfoundry/macsched/internal/logging"
	"github.com/signalsfoundry/macsched/internal/mac"
)

// ServiceType is the DNS-SD type of the gRPC query service.
const ServiceType = "_macsched._tcp"

// Announcement describes what gets published.
type Announcement struct {
	// Instance is the service instance name; defaults to "macsched@<host>".
	Instance string
	Domain   string
	// GRPCPort is the port advertised in the SRV record.
	GRPCPort int
	// HTTPPort is advertised in the TXT record when non-zero.
	HTTPPort  int
	Scheduler mac.Config
}

// ServiceConfig builds the dnssd service definition.
func ServiceConfig(a Announcement) (dnssd.Config, error) {
	if a.GRPCPort <= 0 || a.GRPCPort > 65535 {
		return dnssd.Config{}, fmt.Errorf("discovery: invalid grpc port %d", a.GRPCPort)
	}
	name := a.Instance
	if name == "" {
		name = defaultInstance()
	}
	domain := a.Domain
	if domain == "" {
		domain = "local"
	}
	text := map[string]string{
		"txtvers":     "1",
		"api":         "macsched.v1.ScheduleQuery",
		"ues":         strconv.Itoa(a.Scheduler.UEs),
		"streams":     strconv.Itoa(a.Scheduler.SpatialStreams),
		"subcarriers": strconv.Itoa(a.Scheduler.Subcarriers),
	}
	if a.HTTPPort > 0 {
		text["http_port"] = strconv.Itoa(a.HTTPPort)
	}
	return dnssd.Config{
		Name:   name,
		Type:   ServiceType,
		Domain: domain,
		Port:   a.GRPCPort,
		Text:   text,
	}, nil
}

func defaultInstance() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "macsched"
	}
	return "macsched@" + host
}

// Announce publishes the service and answers mDNS queries until ctx ends.
func Announce(ctx context.Context, a Announcement, log logging.Logger) error {
	if log == nil {
		log = logging.Noop()
	}
	cfg, err := ServiceConfig(a)
	if err != nil {
		return err
	}
	sv, err := dnssd.NewService(cfg)
	if err != nil {
		return fmt.Errorf("discovery: create service: %w", err)
	}
	rp, err := dnssd.NewResponder()
	if err != nil {
		return fmt.Errorf("discovery: create responder: %w", err)
	}
	if _, err := rp.Add(sv); err != nil {
		return fmt.Errorf("discovery: add service: %w", err)
	}

	log.Info(ctx, "announcing schedule query service",
		logging.String("instance", cfg.Name),
		logging.String("type", cfg.Type),
		logging.Int("port", cfg.Port),
	)
	if err := rp.Respond(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("discovery: responder: %w", err)
	}
	return nil
}
