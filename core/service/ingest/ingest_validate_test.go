package ingest

import (
	"bytes"
	"strings"
	"testing"

	"ingest_server/core/domain"
	"ingest_server/pkg/logger"
)

func TestValidate(t *testing.T) {
	v := NewSenderValidator([]string{"@letters.example"})

	tests := []struct {
		name       string
		msg        domain.RawMessage
		wantAccept bool
		wantReason string
	}{
		{
			name: "allowed domain, no auth header",
			msg: domain.RawMessage{
				Subject:     "Weekly",
				SenderEmail: "news@letters.example",
			},
			wantAccept: true,
		},
		{
			name: "domain match is case insensitive",
			msg: domain.RawMessage{
				Subject:     "Weekly",
				SenderEmail: "News@LETTERS.example",
			},
			wantAccept: true,
		},
		{
			name: "wrong domain",
			msg: domain.RawMessage{
				Subject:     "Weekly",
				SenderEmail: "spam@evil.example",
			},
			wantAccept: false,
			wantReason: "not in allowed domains",
		},
		{
			name: "missing subject",
			msg: domain.RawMessage{
				Subject:     "   ",
				SenderEmail: "news@letters.example",
			},
			wantAccept: false,
			wantReason: "missing subject",
		},
		{
			name: "explicit auth failure",
			msg: domain.RawMessage{
				Subject:               "Weekly",
				SenderEmail:           "news@letters.example",
				AuthenticationResults: "mx.example; spf=fail smtp.mailfrom=letters.example; dkim=pass",
			},
			wantAccept: false,
			wantReason: "failed email authentication",
		},
		{
			name: "all mechanisms pass",
			msg: domain.RawMessage{
				Subject:               "Weekly",
				SenderEmail:           "news@letters.example",
				AuthenticationResults: "mx.example; spf=pass; dkim=pass header.d=letters.example; dmarc=pass",
			},
			wantAccept: true,
		},
		{
			name: "softfail is not a rejection",
			msg: domain.RawMessage{
				Subject:               "Weekly",
				SenderEmail:           "news@letters.example",
				AuthenticationResults: "mx.example; spf=softfail; dkim=pass",
			},
			wantAccept: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdict := v.Validate(&tt.msg)
			if verdict.Accepted != tt.wantAccept {
				t.Fatalf("Accepted = %v, want %v (reason: %s)", verdict.Accepted, tt.wantAccept, verdict.Reason)
			}
			if !tt.wantAccept && !contains(verdict.Reason, tt.wantReason) {
				t.Errorf("Reason = %q, want substring %q", verdict.Reason, tt.wantReason)
			}
		})
	}
}

func TestValidate_EmptyAllowlistAcceptsAnyDomain(t *testing.T) {
	v := NewSenderValidator(nil)
	verdict := v.Validate(&domain.RawMessage{Subject: "x", SenderEmail: "a@b.example"})
	if !verdict.Accepted {
		t.Errorf("empty allow-list rejected sender: %s", verdict.Reason)
	}
}

func TestNewSenderValidator_WarnsOnEmptyAllowlist(t *testing.T) {
	var buf bytes.Buffer
	log := logger.New(logger.Config{Level: logger.LevelWarn, Output: &buf, Service: "test"})

	newSenderValidator(nil, log)
	if !strings.Contains(buf.String(), "allow-list is empty") {
		t.Errorf("expected warning about empty allow-list, got %q", buf.String())
	}

	buf.Reset()
	newSenderValidator([]string{"letters.example"}, log)
	if buf.Len() != 0 {
		t.Errorf("unexpected warning with populated allow-list: %q", buf.String())
	}
}

func TestParseAuthResults(t *testing.T) {
	tests := []struct {
		name        string
		header      string
		wantSPF     string
		wantDKIM    string
		wantDMARC   string
		wantOverall string
	}{
		{
			name:        "absent header",
			header:      "",
			wantSPF:     "not_found",
			wantDKIM:    "not_found",
			wantDMARC:   "not_found",
			wantOverall: "unknown",
		},
		{
			name:        "all pass",
			header:      "mx.example; SPF=PASS; dkim=pass header.d=x; dmarc=pass",
			wantSPF:     "pass",
			wantDKIM:    "pass",
			wantDMARC:   "pass",
			wantOverall: "pass",
		},
		{
			name:        "one fail dominates",
			header:      "mx.example; spf=pass; dkim=fail; dmarc=pass",
			wantSPF:     "pass",
			wantDKIM:    "fail",
			wantDMARC:   "pass",
			wantOverall: "fail",
		},
		{
			name:        "neutral results are partial",
			header:      "mx.example; spf=neutral; dkim=pass",
			wantSPF:     "neutral",
			wantDKIM:    "pass",
			wantDMARC:   "not_found",
			wantOverall: "partial",
		},
		{
			name:        "none counts as clean",
			header:      "mx.example; spf=none; dkim=pass",
			wantSPF:     "none",
			wantDKIM:    "pass",
			wantDMARC:   "not_found",
			wantOverall: "pass",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseAuthResults(tt.header)
			if got.SPF != tt.wantSPF || got.DKIM != tt.wantDKIM || got.DMARC != tt.wantDMARC {
				t.Errorf("parsed = %+v, want spf=%s dkim=%s dmarc=%s", got, tt.wantSPF, tt.wantDKIM, tt.wantDMARC)
			}
			if got.Overall != tt.wantOverall {
				t.Errorf("Overall = %q, want %q", got.Overall, tt.wantOverall)
			}
		})
	}
}

func contains(s, sub string) bool {
	return strings.Contains(s, sub)
}
