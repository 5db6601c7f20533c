package event

import (
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/JakeFAU/event-dispatch/internal/clock/system"
)

// Enumerations drawn from by the random factory.
var (
	Currencies = []string{
		"USD", "EUR", "GBP", "JPY", "CNY", "INR", "BDT", "PKR", "NGN", "ZAR", "CAD",
		"AUD", "CHF", "HKD", "MXN", "NZD", "RUB", "SAR", "SGD", "THB", "TRY", "TWD",
	}
	Statuses = []string{
		"PENDING", "COMPLETED", "FAILED", "CANCELLED", "REFUNDED", "REVERSED",
		"REJECTED", "EXPIRED", "AUTHORIZED", "CAPTURED", "VOIDED", "SETTLED",
		"PARTIALLY_SETTLED", "PARTIALLY_REFUNDED", "PARTIALLY_VOIDED",
		"PARTIALLY_AUTHORIZED", "PARTIALLY_CAPTURED",
	}
	CountryCodes = []string{
		"US", "GB", "DE", "FR", "IT", "ES", "NL", "BE", "CH", "AT", "SE", "NO", "DK",
		"FI", "PL", "CZ", "HU", "RO", "BG", "HR", "ME", "AL", "MK", "RS", "SI", "BA", "XK",
	}
	Channels = []string{
		"ATM", "ONLINE", "MOBILE", "BRANCH", "API", "POS", "KIOSK", "TERMINAL", "WEB",
		"APP", "SMS", "EMAIL", "PHONE", "CHAT", "VOICE", "FAX", "LETTER", "MMS", "PUSH",
	}
)

// Factory builds the event for a given sequential id.
type Factory interface {
	Generate(eventID int64) Event
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// FactoryConfig tunes RandomFactory.
type FactoryConfig struct {
	Seed      uint64
	Accounts  int
	MinAmount float64
	MaxAmount float64
	Clock     Clock
}

const (
	defaultAccounts  = 10000
	defaultMinAmount = 10.0
	defaultMaxAmount = 1_000_000.0
)

// RandomFactory synthesizes plausible banking events from a seeded source.
type RandomFactory struct {
	mu        sync.Mutex
	rng       *rand.Rand
	accounts  int
	minAmount float64
	maxAmount float64
	clock     Clock
}

// NewRandomFactory constructs a RandomFactory. Identical seeds yield identical
// event sequences apart from timestamps.
func NewRandomFactory(cfg FactoryConfig) *RandomFactory {
	if cfg.Accounts <= 0 {
		cfg.Accounts = defaultAccounts
	}
	if cfg.MinAmount <= 0 {
		cfg.MinAmount = defaultMinAmount
	}
	if cfg.MaxAmount <= cfg.MinAmount {
		cfg.MaxAmount = defaultMaxAmount
	}
	if cfg.Clock == nil {
		cfg.Clock = system.New()
	}
	return &RandomFactory{
		rng:       rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
		accounts:  cfg.Accounts,
		minAmount: cfg.MinAmount,
		maxAmount: cfg.MaxAmount,
		clock:     cfg.Clock,
	}
}

// Generate returns a new event for eventID. Safe for concurrent use.
func (f *RandomFactory) Generate(eventID int64) Event {
	f.mu.Lock()
	defer f.mu.Unlock()

	amount := f.minAmount + f.rng.Float64()*(f.maxAmount-f.minAmount)
	return Event{
		EventID:       eventID,
		EventType:     EventTypes[f.rng.IntN(len(EventTypes))],
		AccountID:     AccountIDFor(1 + f.rng.IntN(f.accounts)),
		Amount:        math.Round(amount*100) / 100,
		Timestamp:     f.clock.Now(),
		TransactionID: TransactionIDFor(eventID),
		Metadata: Metadata{
			CountryCode: f.pick(CountryCodes),
			Channel:     f.pick(Channels),
			Currency:    f.pick(Currencies),
			Status:      f.pick(Statuses),
		},
	}
}

func (f *RandomFactory) pick(values []string) *string {
	return StringPtr(values[f.rng.IntN(len(values))])
}

