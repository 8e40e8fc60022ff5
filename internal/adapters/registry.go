package adapters

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

// Settings is what a factory receives to build a tenant-scoped capability.
type Settings struct {
	TenantID    string
	Provider    string
	Environment string
	Credentials map[string]string
	Timeout     time.Duration
	HTTPClient  *http.Client
}

func (s Settings) client() *http.Client {
	if s.HTTPClient != nil {
		return s.HTTPClient
	}
	return newHTTPClient(s.Timeout)
}

type Factory func(Settings) (Capability, error)

type Registration struct {
	Name           string
	RequiredFields []string
	New            Factory
}

// MissingFields lists the required credential fields that are blank in creds.
func (r Registration) MissingFields(creds map[string]string) []string {
	var missing []string
	for _, field := range r.RequiredFields {
		if strings.TrimSpace(creds[field]) == "" {
			missing = append(missing, field)
		}
	}
	return missing
}

// Registry maps provider names to factories. It is filled at startup.
type Registry struct {
	mu   sync.RWMutex
	regs map[string]Registration
}

func NewRegistry() *Registry {
	return &Registry{regs: make(map[string]Registration)}
}

// DefaultRegistry holds every built-in gateway.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.MustRegister(RazorpayRegistration())
	r.MustRegister(PhonePeRegistration())
	r.MustRegister(PayOSRegistration())
	return r
}

func (r *Registry) Register(reg Registration) error {
	name := NormalizeProvider(reg.Name)
	if name == "" || reg.New == nil {
		return fmt.Errorf("invalid registration %q", reg.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.regs[name]; exists {
		return fmt.Errorf("provider %q already registered", name)
	}
	reg.Name = name
	r.regs[name] = reg
	return nil
}

func (r *Registry) MustRegister(reg Registration) {
	if err := r.Register(reg); err != nil {
		panic(err)
	}
}

func (r *Registry) Lookup(name string) (Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.regs[NormalizeProvider(name)]
	return reg, ok
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.regs))
	for n := range r.regs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func NormalizeProvider(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
