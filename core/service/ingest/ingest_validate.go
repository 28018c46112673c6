package ingest

import (
	"fmt"
	"regexp"
	"strings"

	"ingest_server/core/domain"
	"ingest_server/pkg/logger"
)

var (
	spfPattern   = regexp.MustCompile(`spf=([^\s;]+)`)
	dkimPattern  = regexp.MustCompile(`dkim=([^\s;]+)`)
	dmarcPattern = regexp.MustCompile(`dmarc=([^\s;]+)`)
)

const authNotFound = "not_found"

// Verdict is the outcome of sender validation. A rejection never enters
// the sanitization stages.
type Verdict struct {
	Accepted bool
	Reason   string
	Auth     domain.AuthResults
}

// SenderValidator is the per-message trust gate: a sender-domain
// allow-list plus inspection of the Authentication-Results header when
// the receiving server recorded one.
type SenderValidator struct {
	allowedDomains []string
	log            *logger.Logger
}

func NewSenderValidator(allowedDomains []string) *SenderValidator {
	return newSenderValidator(allowedDomains, logger.WithField("component", "sender_validator"))
}

func newSenderValidator(allowedDomains []string, log *logger.Logger) *SenderValidator {
	normalized := make([]string, 0, len(allowedDomains))
	for _, d := range allowedDomains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" {
			continue
		}
		if !strings.HasPrefix(d, "@") {
			d = "@" + d
		}
		normalized = append(normalized, d)
	}
	if len(normalized) == 0 {
		log.Warn("sender domain allow-list is empty; every sender will be accepted")
	}
	return &SenderValidator{
		allowedDomains: normalized,
		log:            log,
	}
}

// Validate applies every gate; all must pass. A missing
// Authentication-Results header yields "unknown", not a rejection —
// internal forwarders routinely strip it, so strict zero-trust here
// would reject legitimate mail.
func (v *SenderValidator) Validate(msg *domain.RawMessage) Verdict {
	auth := ParseAuthResults(msg.AuthenticationResults)

	if strings.TrimSpace(msg.Subject) == "" {
		return Verdict{Reason: "missing subject", Auth: auth}
	}

	if !v.domainAllowed(msg.SenderEmail) {
		return Verdict{
			Reason: fmt.Sprintf("sender %q not in allowed domains", msg.SenderEmail),
			Auth:   auth,
		}
	}

	if auth.Overall == "fail" {
		return Verdict{
			Reason: fmt.Sprintf("failed email authentication (spf=%s dkim=%s dmarc=%s)",
				auth.SPF, auth.DKIM, auth.DMARC),
			Auth: auth,
		}
	}

	return Verdict{Accepted: true, Auth: auth}
}

func (v *SenderValidator) domainAllowed(address string) bool {
	if len(v.allowedDomains) == 0 {
		return true
	}
	addr := strings.ToLower(strings.TrimSpace(address))
	for _, d := range v.allowedDomains {
		if strings.HasSuffix(addr, d) {
			return true
		}
	}
	return false
}

// ParseAuthResults extracts the SPF/DKIM/DMARC outcomes from a raw
// Authentication-Results header value. Overall is "pass" when every
// reported mechanism is pass or none, "fail" when any is an explicit
// fail, "partial" otherwise, and "unknown" when the header is absent.
func ParseAuthResults(header string) domain.AuthResults {
	results := domain.AuthResults{
		SPF:     authNotFound,
		DKIM:    authNotFound,
		DMARC:   authNotFound,
		Overall: "unknown",
	}
	if strings.TrimSpace(header) == "" {
		return results
	}

	value := strings.ToLower(header)
	if m := spfPattern.FindStringSubmatch(value); m != nil {
		results.SPF = m[1]
	}
	if m := dkimPattern.FindStringSubmatch(value); m != nil {
		results.DKIM = m[1]
	}
	if m := dmarcPattern.FindStringSubmatch(value); m != nil {
		results.DMARC = m[1]
	}

	reported := 0
	failed := false
	clean := true
	for _, r := range []string{results.SPF, results.DKIM, results.DMARC} {
		if r == authNotFound {
			continue
		}
		reported++
		if r == "fail" {
			failed = true
		}
		if r != "pass" && r != "none" {
			clean = false
		}
	}

	switch {
	case failed:
		results.Overall = "fail"
	case reported > 0 && clean:
		results.Overall = "pass"
	case reported > 0:
		results.Overall = "partial"
	}
	return results
}
