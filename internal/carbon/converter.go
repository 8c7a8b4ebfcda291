package carbon

// EmissionSample is the energy and carbon derived from a single burn delta.
type EmissionSample struct {
	// EnergyUsedKJ is the energy in kilojoules.
	EnergyUsedKJ float64 `json:"energy_used_kj" yaml:"energy_used_kj"`

	// EnergyKWh is EnergyUsedKJ divided by the configured KWhDivisor.
	EnergyKWh float64 `json:"energy_kwh" yaml:"energy_kwh"`

	// CarbonKg is the carbon emitted in kgCO2e.
	CarbonKg float64 `json:"carbon_kg" yaml:"carbon_kg"`
}

// ConverterConfig holds the conversion factors.
// Zero values are replaced by the package defaults.
type ConverterConfig struct {
	// KJPerCycle is kilojoules per burned cycle (default: KJPerCycle).
	KJPerCycle float64 `yaml:"kj_per_cycle"`

	// KWhDivisor turns kilojoules into kWh (default: KWhDivisor).
	KWhDivisor float64 `yaml:"kwh_divisor"`

	// CarbonKgPerKWh is the carbon intensity in kgCO2e/kWh (default: CarbonKgPerKWh).
	CarbonKgPerKWh float64 `yaml:"carbon_kg_per_kwh"`
}

// DefaultConverterConfig returns the network's standard conversion factors.
func DefaultConverterConfig() ConverterConfig {
	return ConverterConfig{
		KJPerCycle:     KJPerCycle,
		KWhDivisor:     KWhDivisor,
		CarbonKgPerKWh: CarbonKgPerKWh,
	}
}

// Converter turns cycle deltas into EmissionSamples. It holds no mutable
// state and is safe for concurrent use.
type Converter struct {
	cfg ConverterConfig
}

// NewConverter creates a Converter. Any zero factor in cfg falls back to
// the default constant.
func NewConverter(cfg ConverterConfig) *Converter {
	def := DefaultConverterConfig()
	if cfg.KJPerCycle == 0 {
		cfg.KJPerCycle = def.KJPerCycle
	}
	if cfg.KWhDivisor == 0 {
		cfg.KWhDivisor = def.KWhDivisor
	}
	if cfg.CarbonKgPerKWh == 0 {
		cfg.CarbonKgPerKWh = def.CarbonKgPerKWh
	}
	return &Converter{cfg: cfg}
}

// Config returns the factors in use.
func (c *Converter) Config() ConverterConfig {
	return c.cfg
}

// CarbonEmissions converts a cycle delta into energy and carbon.
//
// The calculation is:
//  1. Energy (kJ) = deltaCycles × KJPerCycle
//  2. Energy (kWh) = Energy (kJ) / KWhDivisor
//  3. Carbon (kg) = Energy (kWh) × CarbonKgPerKWh
func (c *Converter) CarbonEmissions(deltaCycles float64) EmissionSample {
	energyKJ := deltaCycles * c.cfg.KJPerCycle
	energyKWh := energyKJ / c.cfg.KWhDivisor
	return EmissionSample{
		EnergyUsedKJ: energyKJ,
		EnergyKWh:    energyKWh,
		CarbonKg:     energyKWh * c.cfg.CarbonKgPerKWh,
	}
}

// CarbonEmissions converts a cycle delta using the default factors.
func CarbonEmissions(deltaCycles float64) EmissionSample {
	return defaultConverter.CarbonEmissions(deltaCycles)
}

var defaultConverter = NewConverter(DefaultConverterConfig())
