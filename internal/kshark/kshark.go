// Package kshark checks that the Kafka transport can reach its brokers and
// see the topics an agent listens and replies on.
package kshark

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// Options selects what Run checks.
type Options struct {
	Brokers  []string
	Topics   []string
	ClientID string
	Timeout  time.Duration
}

// Run checks DNS and TCP reachability of every broker, speaks the Kafka
// protocol to the first reachable one, and looks up each topic there.
func Run(ctx context.Context, opts Options) *Report {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	r := &Report{StartedAt: time.Now()}

	var reachable []string
	for _, addr := range opts.Brokers {
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			r.add(Row{"broker", addr, L3, FAIL, fmt.Sprintf("invalid address: %v", err), "Use host:port."})
			continue
		}
		if !checkDNS(r, host) {
			continue
		}
		if checkTCP(r, addr, opts.Timeout) {
			reachable = append(reachable, addr)
		}
	}

	if len(reachable) == 0 {
		for _, t := range opts.Topics {
			r.add(Row{"topic", t, L7, SKIP, "no reachable broker", ""})
		}
	} else {
		checkTopics(ctx, r, reachable[0], opts)
	}

	r.FinishedAt = time.Now()
	r.summarize()
	return r
}

func checkDNS(r *Report, host string) bool {
	start := time.Now()
	_, err := net.LookupHost(host)
	slog.Debug("kshark dns", "host", host, "duration", time.Since(start), "error", err)
	if err != nil {
		r.add(Row{"broker", host, L3, FAIL, fmt.Sprintf("DNS lookup failed: %v", err),
			"Check /etc/hosts, DNS server, split-horizon/VPN search domains."})
		return false
	}
	r.add(Row{"broker", host, L3, OK, "Resolved host", ""})
	return true
}

func checkTCP(r *Report, addr string, timeout time.Duration) bool {
	start := time.Now()
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		slog.Debug("kshark tcp", "addr", addr, "duration", time.Since(start), "error", err)
		r.add(Row{"broker", addr, L4, FAIL, fmt.Sprintf("TCP connect failed: %v", err),
			"Firewall, security groups, LB listeners, or advertised.listeners."})
		return false
	}
	conn.Close()
	r.add(Row{"broker", addr, L4, OK, fmt.Sprintf("Connected in %s", time.Since(start).Truncate(time.Millisecond)), ""})
	return true
}

func checkTopics(ctx context.Context, r *Report, addr string, opts Options) {
	dialer := &kafka.Dialer{ClientID: opts.ClientID, Timeout: opts.Timeout, DualStack: true}
	dctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	conn, err := dialer.DialContext(dctx, "tcp", addr)
	if err != nil {
		r.add(Row{"kafka", addr, L7, FAIL, fmt.Sprintf("broker dial failed: %v", err), hint(err)})
		return
	}
	defer conn.Close()
	if _, err := conn.ApiVersions(); err != nil {
		r.add(Row{"kafka", addr, L7, FAIL, fmt.Sprintf("ApiVersions failed: %v", err), "Broker incompatible or proxy interfering."})
		return
	}
	r.add(Row{"kafka", addr, L7, OK, "ApiVersions OK", ""})

	for _, topic := range opts.Topics {
		parts, err := conn.ReadPartitions(topic)
		if err != nil {
			r.add(Row{"topic", topic, L7, FAIL, fmt.Sprintf("ReadPartitions failed: %v", err), hint(err)})
			continue
		}
		leaders := 0
		for _, p := range parts {
			if p.Leader.Host != "" {
				leaders++
			}
		}
		r.add(Row{"topic", topic, L7, OK, fmt.Sprintf("%d partitions, %d with leaders", len(parts), leaders), ""})
	}
}

func hint(err error) string {
	if err == nil {
		return ""
	}
	var ke kafka.Error
	if errors.As(err, &ke) {
		switch ke {
		case kafka.UnknownTopicOrPartition:
			return "Topic missing: create it or enable auto.create.topics.enable."
		case kafka.TopicAuthorizationFailed:
			return "Missing topic ACL: Write/Describe for replies; Read/Describe for sources."
		case kafka.GroupAuthorizationFailed:
			return "Missing group ACL: Read/Describe on the consumer group."
		case kafka.SASLAuthenticationFailed:
			return "Verify sasl.mechanism, credentials, and listener SASL config."
		case kafka.LeaderNotAvailable, kafka.NotLeaderForPartition:
			return "Leader not available; check broker health and metadata propagation."
		}
	}
	if isTimeout(err) {
		return "Client timeout: check network path, firewall, DNS, or advertised.listeners."
	}
	em := strings.ToLower(err.Error())
	switch {
	case strings.Contains(em, "authoriz"):
		return "Check ACLs: Write/Read/Describe on topic; Read/Describe on group."
	case strings.Contains(em, "tls"), strings.Contains(em, "certificate"):
		return "TLS mismatch; this transport speaks PLAINTEXT."
	default:
		return ""
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	em := strings.ToLower(err.Error())
	return strings.Contains(em, "deadline exceeded") || strings.Contains(em, "i/o timeout")
}
