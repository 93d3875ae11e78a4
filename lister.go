package playlist_archiver

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/hashicorp/go-multierror"
)

var (
	ErrDuplicateProvider = errors.New("duplicate provider name")
	ErrInvalidProvider   = errors.New("invalid provider")
	ErrNoMatch           = errors.New("no provider matched the input")
	ErrUnknownProvider   = errors.New("unknown provider")
)

var (
	PriorityHighest int16 = math.MinInt16
	PriorityDefault int16 = 0
	PriorityLowest  int16 = math.MaxInt16
)

// MatchFunc returns a Lister able to enumerate ref, or an error explaining why ref is not supported.
type MatchFunc = func(ref string) (Lister, error)

// A ListingProvider matches any playlist reference it knows how to enumerate.
type ListingProvider struct {
	Name  string
	Match MatchFunc
	// Priority of the matcher, lower (including negative) means matching earlier.
	Priority int16
}

func (p ListingProvider) WithPriority(priority int16) ListingProvider {
	p.Priority = priority
	return p
}

// A ListerMatch is the result of a ListingProvider successfully matching a reference.
type ListerMatch struct {
	ProviderName string
	Lister       Lister
}

// A ListerRegistry is a collection of ListingProvider instances which can be used to try to match references.
type ListerRegistry struct {
	providers   []*ListingProvider
	providerMap map[string]*ListingProvider
}

// Add registers a ListingProvider. Name and Match must be set, and Name must be unique within the registry.
func (r *ListerRegistry) Add(p ListingProvider) error {
	if r.providerMap == nil {
		r.providerMap = make(map[string]*ListingProvider)
	}
	if p.Name == "" || p.Match == nil {
		return ErrInvalidProvider
	}
	if _, ok := r.providerMap[p.Name]; ok {
		return ErrDuplicateProvider
	}
	r.providerMap[p.Name] = &p
	r.providers = append(r.providers, r.providerMap[p.Name])
	r.sortByPriority()
	return nil
}

// Create is a shortcut for Add(ListingProvider{Name: ..., Match: ..., Priority: ...}).
func (r *ListerRegistry) Create(name string, f MatchFunc, priority int16) error {
	return r.Add(ListingProvider{
		Name:     name,
		Match:    f,
		Priority: priority,
	})
}

// List returns the names of registered providers in priority order.
func (r *ListerRegistry) List() []string {
	names := make([]string, 0, len(r.providers))
	for _, p := range r.providers {
		names = append(names, p.Name)
	}
	return names
}

// Match a reference against each provider in priority order. If none match, the error wraps ErrNoMatch and
// carries each provider's reason.
func (r *ListerRegistry) Match(ref string) (*ListerMatch, error) {
	var result error
	for _, p := range r.providers {
		if lister, err := p.Match(ref); lister != nil && err == nil {
			return &ListerMatch{ProviderName: p.Name, Lister: lister}, nil
		} else if err != nil {
			result = multierror.Append(result, multierror.Prefix(err, fmt.Sprintf("[%v]", p.Name)))
		}
	}
	if result == nil {
		return nil, ErrNoMatch
	}
	return nil, fmt.Errorf("%w: %v", ErrNoMatch, result)
}

// MatchWith will attempt to match a reference against a specific provider.
func (r *ListerRegistry) MatchWith(name string, ref string) (*ListerMatch, error) {
	p, ok := r.providerMap[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	lister, err := p.Match(ref)
	if err != nil {
		return nil, fmt.Errorf("%w: [%s] %v", ErrNoMatch, name, err)
	}
	if lister == nil {
		return nil, ErrNoMatch
	}
	return &ListerMatch{ProviderName: p.Name, Lister: lister}, nil
}

func (r *ListerRegistry) sortByPriority() {
	sort.SliceStable(r.providers, func(i, j int) bool {
		return r.providers[i].Priority < r.providers[j].Priority
	})
}
