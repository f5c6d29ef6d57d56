package conversation

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/mail"
	"strconv"
	"strings"
)

var (
	errNotANumber   = errors.New("not a number")
	errOutOfRange   = errors.New("value out of range")
	errPersonalInfo = errors.New("malformed personal info")
)

// parseNumber reads a user-typed amount such as "300000", "$300,000",
// "300k" or "1.2m". A trailing percent sign is tolerated.
func parseNumber(raw string) (float64, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "$")
	s = strings.TrimSuffix(s, "%")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.ReplaceAll(s, " ", "")
	if s == "" {
		return 0, errNotANumber
	}

	mult := 1.0
	switch s[len(s)-1] {
	case 'k', 'K':
		mult = 1_000
		s = s[:len(s)-1]
	case 'm', 'M':
		mult = 1_000_000
		s = s[:len(s)-1]
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", errNotANumber, raw)
	}
	v *= mult
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %q", errNotANumber, raw)
	}
	return v, nil
}

// parsePositive accepts strictly positive amounts.
func parsePositive(raw string) (float64, error) {
	v, err := parseNumber(raw)
	if err != nil {
		return 0, err
	}
	if v <= 0 {
		return 0, fmt.Errorf("%w: %v", errOutOfRange, v)
	}
	return v, nil
}

// parsePercent accepts percentages in (0, 100].
func parsePercent(raw string) (float64, error) {
	v, err := parseNumber(raw)
	if err != nil {
		return 0, err
	}
	if v <= 0 || v > 100 {
		return 0, fmt.Errorf("%w: %v", errOutOfRange, v)
	}
	return v, nil
}

type personalInfo struct {
	Name  string
	Email string
	Last4 string
}

// personalInfoPayload is the wire shape of the personal-info answer. Both the
// camelCase key used by the web client and snake_case variants are accepted.
type personalInfoPayload struct {
	Name       string `json:"name"`
	Email      string `json:"email"`
	IDLast4    string `json:"idLast4"`
	IDLast4Alt string `json:"id_last4"`
	IDLastFour string `json:"id_last_four"`
}

func parsePersonalInfo(raw string) (personalInfo, error) {
	var p personalInfoPayload
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &p); err != nil {
		return personalInfo{}, fmt.Errorf("%w: %v", errPersonalInfo, err)
	}

	last4 := firstNonEmpty(p.IDLast4, p.IDLast4Alt, p.IDLastFour)
	info := personalInfo{
		Name:  strings.TrimSpace(p.Name),
		Email: strings.TrimSpace(p.Email),
		Last4: strings.TrimSpace(last4),
	}

	if info.Name == "" {
		return personalInfo{}, fmt.Errorf("%w: name is required", errPersonalInfo)
	}
	addr, err := mail.ParseAddress(info.Email)
	if err != nil || addr.Address != info.Email {
		return personalInfo{}, fmt.Errorf("%w: invalid email %q", errPersonalInfo, info.Email)
	}
	if !isFourDigits(info.Last4) {
		return personalInfo{}, fmt.Errorf("%w: id must be four digits", errPersonalInfo)
	}
	return info, nil
}

func isFourDigits(s string) bool {
	if len(s) != 4 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
