// Package terms maps signature coefficients to index terms. A coefficient
// term is prefix + channel + "_" + position, e.g. "I0_-3" for position -3 of
// the Y channel under prefix "I". Range bucket terms for channel averages
// live under prefix + "A" + channel + "_" and never share a prefix with
// coefficient terms.
package terms

import (
	"sort"
	"strconv"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/imgseek/internal/imgseek/signature"
	apperrors "github.com/Adithya-Monish-Kumar-K/imgseek/pkg/errors"
)

const (
	channelSeparator = "_"
	averageMarker    = "A"
)

// Term is the decoded form of a coefficient term.
type Term struct {
	Channel  signature.Channel
	Position int
}

// Mapper encodes and decodes terms under a fixed prefix.
type Mapper struct {
	prefix string
}

// NewMapper returns a Mapper for the given prefix. An empty prefix is
// allowed; the channel discriminator alone keeps terms apart.
func NewMapper(prefix string) *Mapper {
	return &Mapper{prefix: prefix}
}

// Prefix returns the configured prefix.
func (m *Mapper) Prefix() string {
	return m.prefix
}

// PrefixFor returns the prefix shared by every coefficient term of channel c.
func (m *Mapper) PrefixFor(c signature.Channel) string {
	return m.prefix + strconv.Itoa(int(c)) + channelSeparator
}

// AveragePrefixFor returns the prefix for range bucket terms of channel c.
func (m *Mapper) AveragePrefixFor(c signature.Channel) string {
	return m.prefix + averageMarker + strconv.Itoa(int(c)) + channelSeparator
}

// TermFor returns the term for coefficient position of channel c.
func (m *Mapper) TermFor(position int, c signature.Channel) string {
	return m.PrefixFor(c) + strconv.Itoa(position)
}

// Encode is TermFor on a decoded Term.
func (m *Mapper) Encode(t Term) string {
	return m.TermFor(t.Position, t.Channel)
}

// Decode parses a coefficient term produced by Encode.
func (m *Mapper) Decode(term string) (Term, error) {
	rest, ok := strings.CutPrefix(term, m.prefix)
	if !ok {
		return Term{}, apperrors.InvalidInputf("term %q lacks prefix %q", term, m.prefix)
	}
	ch, pos, ok := strings.Cut(rest, channelSeparator)
	if !ok {
		return Term{}, apperrors.InvalidInputf("term %q is not a coefficient term", term)
	}
	c, err := strconv.Atoi(ch)
	if err != nil || !signature.Channel(c).Valid() || strconv.Itoa(c) != ch {
		return Term{}, apperrors.InvalidInputf("term %q has invalid channel %q", term, ch)
	}
	p, err := strconv.Atoi(pos)
	if err != nil || strconv.Itoa(p) != pos {
		return Term{}, apperrors.InvalidInputf("term %q has invalid position %q", term, pos)
	}
	return Term{Channel: signature.Channel(c), Position: p}, nil
}

// TermsFor returns the sorted, de-duplicated coefficient terms of sig.
func (m *Mapper) TermsFor(sig *signature.Signature) []string {
	set := make(map[string]struct{})
	for _, c := range signature.Channels {
		for _, pos := range sig.Positions(c) {
			set[m.TermFor(pos, c)] = struct{}{}
		}
	}
	result := make([]string, 0, len(set))
	for term := range set {
		result = append(result, term)
	}
	sort.Strings(result)
	return result
}
