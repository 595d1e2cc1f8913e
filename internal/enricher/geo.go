// Package enricher annotates collected events with GeoLite2 country and ASN
// data before they reach the comparator.
package enricher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/oschwald/geoip2-golang"

	"shrike/internal/bus"
	"shrike/internal/config"
	"shrike/internal/domain"
)

type Enricher struct {
	consumer bus.Consumer
	pub      bus.Publisher

	mu        sync.RWMutex
	countryDB *geoip2.Reader
	asnDB     *geoip2.Reader
}

func New(consumer bus.Consumer, pub bus.Publisher) *Enricher {
	return &Enricher{consumer: consumer, pub: pub}
}

// LoadDatabases opens the configured GeoLite readers. Missing databases are
// not fatal: events pass through unannotated until an update lands.
func (e *Enricher) LoadDatabases() {
	cfg := config.GetConfig()

	countryDB, err := geoip2.Open(cfg.GeoLite.CountryDBPath)
	if err != nil {
		log.Warn("GeoLite country database unavailable", "path", cfg.GeoLite.CountryDBPath, "error", err)
	}
	asnDB, err := geoip2.Open(cfg.GeoLite.ASNDBPath)
	if err != nil {
		log.Warn("GeoLite ASN database unavailable", "path", cfg.GeoLite.ASNDBPath, "error", err)
	}

	e.mu.Lock()
	if e.countryDB != nil {
		e.countryDB.Close()
	}
	if e.asnDB != nil {
		e.asnDB.Close()
	}
	e.countryDB = countryDB
	e.asnDB = asnDB
	e.mu.Unlock()
}

// Run consumes raw events, annotates them, and republishes them for the
// comparator. It returns when ctx is cancelled.
func (e *Enricher) Run(ctx context.Context) error {
	for {
		delivery, err := e.consumer.Receive(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("enricher: receive: %w", err)
		}

		ev, err := domain.DecodeEvent(delivery.Body)
		if err != nil {
			log.Error("Dropping undecodable raw event", "error", err)
			continue
		}

		e.Enrich(ev)

		body, err := ev.Encode()
		if err != nil {
			log.Error("Failed to encode enriched event", "error", err)
			continue
		}
		routingKey := "enriched." + ev.Source()
		if err := e.pub.Publish(ctx, routingKey, body); err != nil {
			log.Error("Failed to publish enriched event", "source", ev.Source(), "error", err)
		}
	}
}

// Enrich fills in country and ASN data for every address of the event that
// the open databases can resolve.
func (e *Enricher) Enrich(ev domain.Event) {
	addrs := ev.Addresses()
	if len(addrs) == 0 {
		return
	}

	changed := false
	for i := range addrs {
		cc, asn := e.lookup(addrs[i].IP)
		if cc != "" && addrs[i].CC == "" {
			addrs[i].CC = cc
			changed = true
		}
		if asn != 0 && addrs[i].ASN == 0 {
			addrs[i].ASN = asn
			changed = true
		}
	}
	if changed {
		ev.SetAddresses(addrs)
	}
}

func (e *Enricher) lookup(rawIP string) (cc string, asn uint) {
	ip := net.ParseIP(rawIP)
	if ip == nil {
		return "", 0
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.countryDB != nil {
		if record, err := e.countryDB.Country(ip); err == nil {
			cc = record.Country.IsoCode
		}
	}
	if e.asnDB != nil {
		if record, err := e.asnDB.ASN(ip); err == nil {
			asn = record.AutonomousSystemNumber
		}
	}
	return cc, asn
}

// Close releases the open database readers.
func (e *Enricher) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.countryDB != nil {
		e.countryDB.Close()
		e.countryDB = nil
	}
	if e.asnDB != nil {
		e.asnDB.Close()
		e.asnDB = nil
	}
}
