package builtin

import "github.com/adaptiveX-gh/EdgeQL-sub000/dsl/registry"

// RegisterAll installs the fixed builtin type set into r (spec.md §4.2
// "Builtin registry — fixed set at process start"). Call once per
// registry instance, before serving any lookups.
func RegisterAll(r *registry.Registry) {
	r.RegisterBuiltin(DataLoaderType{})
	r.RegisterBuiltin(IndicatorType{})
	r.RegisterBuiltin(CrossoverSignalType{})
	r.RegisterBuiltin(BacktestType{})
	r.RegisterBuiltin(FeatureGeneratorType{})
	r.RegisterBuiltin(LabelingType{})
}
