package config

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode"
)

// MinSecretKeyLength is the minimum length required of SECRET_KEY in
// production, used to HMAC-sign session authorization tokens.
const MinSecretKeyLength = 32

// SecretsConfig holds the validated subset of Config that gates
// production startup.
type SecretsConfig struct {
	SecretKey    string
	Environment  string
	IsProduction bool
}

// SecretsValidationError reports every problem found in one pass so the
// operator fixes them all at once instead of one-by-one.
type SecretsValidationError struct {
	Missing []string
	Invalid []string
}

func (e *SecretsValidationError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, fmt.Sprintf("missing secrets: %s", strings.Join(e.Missing, ", ")))
	}
	if len(e.Invalid) > 0 {
		parts = append(parts, fmt.Sprintf("invalid secrets: %s", strings.Join(e.Invalid, ", ")))
	}
	return strings.Join(parts, "; ")
}

func (e *SecretsValidationError) HasErrors() bool {
	return len(e.Missing) > 0 || len(e.Invalid) > 0
}

// ValidateSecrets checks SECRET_KEY against production strength rules.
// Outside production, weak or missing values are tolerated so local
// development needs no setup.
func ValidateSecrets(cfg *Config) (*SecretsConfig, error) {
	isProd := IsProductionEnvironment()
	out := &SecretsConfig{
		SecretKey:    cfg.SecretKey,
		Environment:  cfg.Environment,
		IsProduction: isProd,
	}

	if !isProd {
		return out, nil
	}

	verr := &SecretsValidationError{}
	if cfg.SecretKey == "" {
		verr.Missing = append(verr.Missing, "SECRET_KEY")
	} else if len(cfg.SecretKey) < MinSecretKeyLength {
		verr.Invalid = append(verr.Invalid, fmt.Sprintf("SECRET_KEY: too short (min %d characters)", MinSecretKeyLength))
	} else if err := validateSecretKey(cfg.SecretKey); err != nil {
		verr.Invalid = append(verr.Invalid, fmt.Sprintf("SECRET_KEY: %s", err))
	}

	if verr.HasErrors() {
		return nil, verr
	}
	return out, nil
}

// MustValidateSecrets validates secrets and exits the process on
// failure; callers in production should invoke this before binding any
// listener that accepts untrusted traffic.
func MustValidateSecrets(cfg *Config, fatal func(string)) *SecretsConfig {
	secrets, err := ValidateSecrets(cfg)
	if err != nil {
		fatal(fmt.Sprintf("secrets validation failed: %v", err))
		return nil
	}
	return secrets
}

// validateSecretKey rejects weak or low-entropy signing keys.
func validateSecretKey(secret string) error {
	weak := []string{
		"secret", "changeme", "password", "test", "dev", "development",
		"example", "default", "placeholder", "replace-me", "todo", "fixme",
	}
	lower := strings.ToLower(secret)
	for _, w := range weak {
		if lower == w || strings.Contains(lower, w) {
			return fmt.Errorf("contains weak/placeholder value %q", w)
		}
	}

	allAlpha, allDigit := true, true
	for _, c := range secret {
		if !unicode.IsLetter(c) {
			allAlpha = false
		}
		if !unicode.IsDigit(c) {
			allDigit = false
		}
	}
	if allAlpha {
		return errors.New("must contain non-alphabetic characters for sufficient entropy")
	}
	if allDigit {
		return errors.New("must contain non-numeric characters for sufficient entropy")
	}

	if entropy := shannonEntropy(secret); entropy < 3.0 {
		return fmt.Errorf("entropy too low (%.1f bits/char, need >= 3.0)", entropy)
	}
	if hasRepeatingPattern(secret) {
		return errors.New("appears to contain a repeating pattern")
	}
	return nil
}

func shannonEntropy(s string) float64 {
	if len(s) == 0 {
		return 0
	}
	freq := make(map[rune]float64)
	for _, c := range s {
		freq[c]++
	}
	length := float64(len([]rune(s)))
	entropy := 0.0
	for _, count := range freq {
		p := count / length
		if p > 0 {
			entropy -= p * math.Log2(p)
		}
	}
	return entropy
}

func hasRepeatingPattern(s string) bool {
	n := len(s)
	if n < 6 {
		return false
	}
	for patLen := 1; patLen <= n/2; patLen++ {
		pattern := s[:patLen]
		isRepeat := true
		for i := patLen; i < n; i++ {
			if s[i] != pattern[i%patLen] {
				isRepeat = false
				break
			}
		}
		if isRepeat {
			return true
		}
	}
	return false
}
