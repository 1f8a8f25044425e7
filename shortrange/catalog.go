package shortrange

import (
	"strings"
	"time"
)

// ModuleType identifies a module variant.
type ModuleType int

const (
	ModuleNone ModuleType = iota
	ModuleNinaB1
	ModuleAnnaB1
	ModuleNinaB3
	ModuleNinaB4
	ModuleNinaB2
	ModuleNinaW13
	ModuleNinaW15
	ModuleOdinW2
)

// ModuleCharacteristics holds the timing and capabilities of a variant.
type ModuleCharacteristics struct {
	Type ModuleType
	// Name is the model prefix reported by AT+GMM.
	Name string
	// BootWait is how long the module needs after power-on before it
	// accepts commands.
	BootWait time.Duration
	// RebootCommandWait is how long the module needs after a reboot
	// command. It caps the waits of the recovery ladder.
	RebootCommandWait time.Duration
	ATTimeout         time.Duration
	// CommandDelay is the minimum gap between two commands.
	CommandDelay time.Duration
	// ResponseMaxWait is the longest the module takes to start a
	// response once a command is complete.
	ResponseMaxWait time.Duration
	BLE             bool
	WiFi            bool
}

var catalog = []ModuleCharacteristics{
	{Type: ModuleNinaB1, Name: "NINA-B1", BootWait: 5 * time.Second, RebootCommandWait: 5 * time.Second, ATTimeout: 5 * time.Second, CommandDelay: 10 * time.Millisecond, ResponseMaxWait: 100 * time.Millisecond, BLE: true},
	{Type: ModuleAnnaB1, Name: "ANNA-B1", BootWait: 5 * time.Second, RebootCommandWait: 5 * time.Second, ATTimeout: 5 * time.Second, CommandDelay: 10 * time.Millisecond, ResponseMaxWait: 100 * time.Millisecond, BLE: true},
	{Type: ModuleNinaB3, Name: "NINA-B3", BootWait: 5 * time.Second, RebootCommandWait: 5 * time.Second, ATTimeout: 5 * time.Second, CommandDelay: 10 * time.Millisecond, ResponseMaxWait: 100 * time.Millisecond, BLE: true},
	{Type: ModuleNinaB4, Name: "NINA-B4", BootWait: 5 * time.Second, RebootCommandWait: 5 * time.Second, ATTimeout: 5 * time.Second, CommandDelay: 10 * time.Millisecond, ResponseMaxWait: 100 * time.Millisecond, BLE: true},
	{Type: ModuleNinaB2, Name: "NINA-B2", BootWait: 5 * time.Second, RebootCommandWait: 5 * time.Second, ATTimeout: 5 * time.Second, CommandDelay: 10 * time.Millisecond, ResponseMaxWait: 100 * time.Millisecond, BLE: true},
	{Type: ModuleNinaW13, Name: "NINA-W13", BootWait: 6 * time.Second, RebootCommandWait: 6 * time.Second, ATTimeout: 5 * time.Second, CommandDelay: 10 * time.Millisecond, ResponseMaxWait: 100 * time.Millisecond, WiFi: true},
	{Type: ModuleNinaW15, Name: "NINA-W15", BootWait: 6 * time.Second, RebootCommandWait: 6 * time.Second, ATTimeout: 5 * time.Second, CommandDelay: 10 * time.Millisecond, ResponseMaxWait: 100 * time.Millisecond, BLE: true, WiFi: true},
	{Type: ModuleOdinW2, Name: "ODIN-W2", BootWait: 5 * time.Second, RebootCommandWait: 5 * time.Second, ATTimeout: 5 * time.Second, CommandDelay: 10 * time.Millisecond, ResponseMaxWait: 100 * time.Millisecond, BLE: true, WiFi: true},
}

// LookupModule returns the characteristics of t.
func LookupModule(t ModuleType) (ModuleCharacteristics, bool) {
	for _, m := range catalog {
		if m.Type == t {
			return m, true
		}
	}
	return ModuleCharacteristics{}, false
}

// ParseModuleType maps a model name such as "NINA-B1" or the AT+GMM reply
// "NINA-B112" to its ModuleType.
func ParseModuleType(model string) (ModuleType, bool) {
	model = strings.ToUpper(strings.TrimSpace(model))
	best := ModuleNone
	bestLen := 0
	for _, m := range catalog {
		if strings.HasPrefix(model, m.Name) && len(m.Name) > bestLen {
			best, bestLen = m.Type, len(m.Name)
		}
	}
	return best, best != ModuleNone
}

func (t ModuleType) String() string {
	if m, ok := LookupModule(t); ok {
		return m.Name
	}
	return "unknown"
}
