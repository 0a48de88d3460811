// Package discovery advertises and browses for mnemo HTTP servers on the
// local network via mDNS/DNS-SD, so a client on one machine can find a
// server already running on another without being told its address.
package discovery

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
)

const (
	serviceType = "_mcp-memory._tcp"
	domain      = "local."
	scanTimeout = 5 * time.Second
)

// Peer describes a discovered mnemo server.
type Peer struct {
	Name          string
	Address       string
	Port          int
	APIVersion    string
	HTTPS         bool
	AuthRequired  bool
}

// Advertise registers this process as a mnemo server under serviceName on
// port, encoding API metadata as TXT records. It blocks until ctx is
// cancelled, so callers run it in its own goroutine; failures here are
// logged and otherwise non-fatal, since discovery is a convenience, not a
// dependency of any store operation.
func Advertise(ctx context.Context, serviceName string, port int, apiVersion string, https, authRequired bool) {
	txt := []string{
		"api_version=" + apiVersion,
		"https=" + strconv.FormatBool(https),
		"auth_required=" + strconv.FormatBool(authRequired),
		"service_name=" + serviceName,
	}

	server, err := zeroconf.Register(serviceName, serviceType, domain, port, txt, nil)
	if err != nil {
		log.Printf("discovery: failed to register mDNS service: %v", err)
		return
	}
	defer server.Shutdown()

	log.Printf("discovery: advertising %q on port %d", serviceName, port)
	<-ctx.Done()
}

// Browse scans the local network for mnemo servers for up to scanTimeout,
// returning whatever peers answered before the scan window closed.
func Browse(ctx context.Context) ([]Peer, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("discovery: failed to create mDNS resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry)
	var mu sync.Mutex
	var peers []Peer
	var wg sync.WaitGroup

	scanCtx, cancel := context.WithTimeout(ctx, scanTimeout)
	defer cancel()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for entry := range entries {
			peer := entryToPeer(entry)
			mu.Lock()
			peers = append(peers, peer)
			mu.Unlock()
		}
	}()

	if err := resolver.Browse(scanCtx, serviceType, domain, entries); err != nil {
		cancel()
		wg.Wait()
		return nil, fmt.Errorf("discovery: mDNS browse failed: %w", err)
	}

	<-scanCtx.Done()
	wg.Wait()

	mu.Lock()
	result := make([]Peer, len(peers))
	copy(result, peers)
	mu.Unlock()

	return result, nil
}

func entryToPeer(entry *zeroconf.ServiceEntry) Peer {
	var address string
	if len(entry.AddrIPv4) > 0 {
		address = entry.AddrIPv4[0].String()
	} else if len(entry.AddrIPv6) > 0 {
		address = entry.AddrIPv6[0].String()
	}

	txt := parseTXT(entry.Text)

	return Peer{
		Name:         entry.ServiceRecord.Instance,
		Address:      address,
		Port:         entry.Port,
		APIVersion:   txt["api_version"],
		HTTPS:        txt["https"] == "true",
		AuthRequired: txt["auth_required"] == "true",
	}
}

func parseTXT(txt []string) map[string]string {
	m := make(map[string]string, len(txt))
	for _, t := range txt {
		parts := strings.SplitN(t, "=", 2)
		if len(parts) == 2 {
			m[parts[0]] = parts[1]
		}
	}
	return m
}
