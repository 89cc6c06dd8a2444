package ta

import "math"

// Category names.
const (
	CatMovingAverage = "moving_average"
	CatOscillator    = "oscillator"
	CatVolatility    = "volatility"
	CatTrend         = "trend"
	CatRange         = "range"
	CatPredicate     = "predicate"
	CatMisc          = "misc"
	CatVolume        = "volume"
	CatMath          = "math"
)

// init registers the full catalog on package load.
func init() {
	all := make([]*Descriptor, 0, 64)
	all = append(all, movingAverages()...)
	all = append(all, oscillators()...)
	all = append(all, volatility()...)
	all = append(all, trend()...)
	all = append(all, ranges()...)
	all = append(all, predicates()...)
	all = append(all, misc()...)
	all = append(all, volume()...)
	all = append(all, mathFuncs()...)
	RegisterAll(all)
}

// ---------------------------------------------------------------------------
// Parameter and adapter shorthands
// ---------------------------------------------------------------------------

func series(name string) Param { return Param{Name: name, Kind: SeriesParam} }

// price is a series parameter that defaults to a bar-table builtin.
func price(name, builtin string) Param {
	return Param{Name: name, Kind: SeriesParam, Optional: true, Price: builtin}
}

// hidden is a price-backed series the caller never passes positionally.
func hidden(name, builtin string) Param {
	return Param{Name: name, Kind: SeriesParam, Optional: true, Price: builtin, Hidden: true}
}

func length(name string) Param { return Param{Name: name, Kind: LengthParam} }

func lengthOr(name string, def float64) Param {
	return Param{Name: name, Kind: LengthParam, Optional: true, Default: def}
}

func intOr(name string, def float64) Param {
	return Param{Name: name, Kind: IntParam, Optional: true, Default: def}
}

func intParam(name string) Param { return Param{Name: name, Kind: IntParam} }

func float(name string) Param { return Param{Name: name, Kind: FloatParam} }

func boolOr(name string, def bool) Param {
	return Param{Name: name, Kind: BoolParam, Optional: true, Default: boolf(def)}
}

func one(v []float64) [][]float64 { return [][]float64{v} }

func n(x float64) int { return int(x) }

func flag(x float64) bool { return x != 0 }

var hlc = []string{"high", "low", "close"}

func hlcParams() []Param {
	return []Param{price("high", "high"), price("low", "low"), price("close", "close")}
}

// windowed builds the common (source, length) descriptor.
func windowed(id, cat, summary string, fn func([]float64, int) []float64) *Descriptor {
	return &Descriptor{
		ID: id, Category: cat, Summary: summary,
		Params:  []Param{series("source"), length("length")},
		Outputs: []string{"value"},
		Fn: func(s [][]float64, k []float64) [][]float64 {
			return one(fn(s[0], n(k[0])))
		},
	}
}

// elementwise builds a one-series math descriptor.
func elementwise(id, summary string, fn func([]float64) []float64) *Descriptor {
	return &Descriptor{
		ID: id, Category: CatMath, Summary: summary,
		Params:  []Param{series("source")},
		Outputs: []string{"value"},
		Fn:      func(s [][]float64, _ []float64) [][]float64 { return one(fn(s[0])) },
	}
}

func mathOf(fn func(float64) float64) func([]float64) []float64 {
	return func(src []float64) []float64 { return apply(src, fn) }
}

// ---------------------------------------------------------------------------
// Catalog
// ---------------------------------------------------------------------------

func movingAverages() []*Descriptor {
	return []*Descriptor{
		windowed("ta.sma", CatMovingAverage, "simple moving average", SMA),
		windowed("ta.ema", CatMovingAverage, "exponential moving average", EMA),
		windowed("ta.rma", CatMovingAverage, "Wilder moving average", RMA),
		windowed("ta.wma", CatMovingAverage, "weighted moving average", WMA),
		windowed("ta.hma", CatMovingAverage, "Hull moving average", HMA),
		{
			ID: "ta.vwma", Category: CatMovingAverage, Summary: "volume-weighted moving average",
			Params:  []Param{series("source"), length("length"), hidden("volume", "volume")},
			Outputs: []string{"value"},
			Fn: func(s [][]float64, k []float64) [][]float64 {
				return one(VWMA(s[0], s[1], n(k[0])))
			},
		},
		{
			ID: "ta.alma", Category: CatMovingAverage, Summary: "Arnaud Legoux moving average",
			Params: []Param{
				series("source"), length("length"), float("offset"), float("sigma"), boolOr("floor", false),
			},
			Outputs: []string{"value"},
			Fn: func(s [][]float64, k []float64) [][]float64 {
				return one(ALMA(s[0], n(k[0]), k[1], k[2], flag(k[3])))
			},
		},
		{
			ID: "ta.swma", Category: CatMovingAverage, Summary: "symmetric weighted moving average over 4 bars",
			Params:  []Param{series("source")},
			Outputs: []string{"value"},
			Fn:      func(s [][]float64, _ []float64) [][]float64 { return one(SWMA(s[0])) },
		},
		{
			ID: "ta.linreg", Category: CatMovingAverage, Summary: "linear regression curve",
			Params:  []Param{series("source"), length("length"), intOr("offset", 0)},
			Outputs: []string{"value"},
			Fn: func(s [][]float64, k []float64) [][]float64 {
				return one(LinReg(s[0], n(k[0]), n(k[1])))
			},
		},
	}
}

func oscillators() []*Descriptor {
	return []*Descriptor{
		windowed("ta.rsi", CatOscillator, "relative strength index", RSI),
		windowed("ta.cci", CatOscillator, "commodity channel index", CCI),
		windowed("ta.cmo", CatOscillator, "Chande momentum oscillator", CMO),
		windowed("ta.mom", CatOscillator, "momentum", Mom),
		windowed("ta.roc", CatOscillator, "rate of change", ROC),
		{
			ID: "ta.change", Category: CatOscillator, Summary: "difference from length bars ago",
			Params:  []Param{series("source"), lengthOr("length", 1)},
			Outputs: []string{"value"},
			Fn: func(s [][]float64, k []float64) [][]float64 {
				return one(Change(s[0], n(k[0])))
			},
		},
		{
			ID: "ta.macd", Category: CatOscillator, Summary: "moving average convergence/divergence",
			Params: []Param{
				series("source"), length("fastlen"), length("slowlen"), length("siglen"),
			},
			Outputs: []string{"macd", "signal", "hist"},
			Fn: func(s [][]float64, k []float64) [][]float64 {
				line, sig, hist := MACD(s[0], n(k[0]), n(k[1]), n(k[2]))
				return [][]float64{line, sig, hist}
			},
		},
		{
			ID: "ta.stoch", Category: CatOscillator, Summary: "stochastic %K",
			Params: []Param{
				price("source", "close"), price("high", "high"), price("low", "low"), length("length"),
			},
			Implicit: []string{"source", "high", "low"},
			Outputs:  []string{"value"},
			Fn: func(s [][]float64, k []float64) [][]float64 {
				return one(Stoch(s[0], s[1], s[2], n(k[0])))
			},
		},
		{
			ID: "ta.mfi", Category: CatOscillator, Summary: "money flow index",
			Params:  []Param{series("source"), length("length"), hidden("volume", "volume")},
			Outputs: []string{"value"},
			Fn: func(s [][]float64, k []float64) [][]float64 {
				return one(MFI(s[0], s[1], n(k[0])))
			},
		},
		{
			ID: "ta.tsi", Category: CatOscillator, Summary: "true strength index",
			Params:  []Param{series("source"), length("short_length"), length("long_length")},
			Outputs: []string{"value"},
			Fn: func(s [][]float64, k []float64) [][]float64 {
				return one(TSI(s[0], n(k[0]), n(k[1])))
			},
		},
		{
			ID: "ta.wpr", Category: CatOscillator, Summary: "Williams %R",
			Params:   append(hlcParams(), length("length")),
			Implicit: hlc,
			Outputs:  []string{"value"},
			Fn: func(s [][]float64, k []float64) [][]float64 {
				return one(WPR(s[0], s[1], s[2], n(k[0])))
			},
		},
	}
}

func volatility() []*Descriptor {
	return []*Descriptor{
		{
			ID: "ta.tr", Category: CatVolatility, Summary: "true range",
			Params:   append(hlcParams(), boolOr("handle_na", false)),
			Implicit: hlc,
			Outputs:  []string{"value"},
			Variable: true,
			Fn: func(s [][]float64, k []float64) [][]float64 {
				return one(TR(s[0], s[1], s[2], flag(k[0])))
			},
		},
		{
			ID: "ta.atr", Category: CatVolatility, Summary: "average true range",
			Params:   append(hlcParams(), length("length")),
			Implicit: hlc,
			Outputs:  []string{"value"},
			Fn: func(s [][]float64, k []float64) [][]float64 {
				return one(ATR(s[0], s[1], s[2], n(k[0])))
			},
		},
		{
			ID: "ta.stdev", Category: CatVolatility, Summary: "standard deviation",
			Params:  []Param{series("source"), length("length"), boolOr("biased", true)},
			Outputs: []string{"value"},
			Fn: func(s [][]float64, k []float64) [][]float64 {
				return one(Stdev(s[0], n(k[0]), flag(k[1])))
			},
		},
		{
			ID: "ta.variance", Category: CatVolatility, Summary: "variance",
			Params:  []Param{series("source"), length("length"), boolOr("biased", true)},
			Outputs: []string{"value"},
			Fn: func(s [][]float64, k []float64) [][]float64 {
				return one(Variance(s[0], n(k[0]), flag(k[1])))
			},
		},
		windowed("ta.dev", CatVolatility, "mean absolute deviation", Dev),
		{
			ID: "ta.bb", Category: CatVolatility, Summary: "Bollinger bands",
			Params:  []Param{series("source"), length("length"), float("mult")},
			Outputs: []string{"middle", "upper", "lower"},
			Fn: func(s [][]float64, k []float64) [][]float64 {
				m, u, l := BB(s[0], n(k[0]), k[1])
				return [][]float64{m, u, l}
			},
		},
		{
			ID: "ta.bbw", Category: CatVolatility, Summary: "Bollinger band width",
			Params:  []Param{series("source"), length("length"), float("mult")},
			Outputs: []string{"value"},
			Fn: func(s [][]float64, k []float64) [][]float64 {
				return one(BBW(s[0], n(k[0]), k[1]))
			},
		},
		{
			ID: "ta.kc", Category: CatVolatility, Summary: "Keltner channels",
			Params:  kcParams(),
			Outputs: []string{"middle", "upper", "lower"},
			Fn: func(s [][]float64, k []float64) [][]float64 {
				m, u, l := KC(s[0], s[1], s[2], s[3], n(k[0]), k[1], flag(k[2]))
				return [][]float64{m, u, l}
			},
		},
		{
			ID: "ta.kcw", Category: CatVolatility, Summary: "Keltner channel width",
			Params:  kcParams(),
			Outputs: []string{"value"},
			Fn: func(s [][]float64, k []float64) [][]float64 {
				return one(KCW(s[0], s[1], s[2], s[3], n(k[0]), k[1], flag(k[2])))
			},
		},
	}
}

func kcParams() []Param {
	return []Param{
		series("source"), length("length"), float("mult"), boolOr("useTrueRange", true),
		hidden("high", "high"), hidden("low", "low"), hidden("close", "close"),
	}
}

func trend() []*Descriptor {
	return []*Descriptor{
		{
			ID: "ta.dmi", Category: CatTrend, Summary: "directional movement index",
			Params:   append(hlcParams(), length("diLength"), length("adxSmoothing")),
			Implicit: hlc,
			Outputs:  []string{"plus", "minus", "adx"},
			Fn: func(s [][]float64, k []float64) [][]float64 {
				p, m, a := DMI(s[0], s[1], s[2], n(k[0]), n(k[1]))
				return [][]float64{p, m, a}
			},
		},
		{
			ID: "ta.supertrend", Category: CatTrend, Summary: "supertrend line and direction",
			Params:   append(hlcParams(), float("factor"), length("atrPeriod")),
			Implicit: hlc,
			Outputs:  []string{"supertrend", "direction"},
			Fn: func(s [][]float64, k []float64) [][]float64 {
				line, dir := Supertrend(s[0], s[1], s[2], k[0], n(k[1]))
				return [][]float64{line, dir}
			},
		},
		{
			ID: "ta.sar", Category: CatTrend, Summary: "parabolic SAR",
			Params:   append(hlcParams(), float("start"), float("inc"), float("max")),
			Implicit: hlc,
			Outputs:  []string{"value"},
			Fn: func(s [][]float64, k []float64) [][]float64 {
				return one(SAR(s[0], s[1], s[2], k[0], k[1], k[2]))
			},
		},
	}
}

func ranges() []*Descriptor {
	sourced := func(id, builtin, summary string, fn func([]float64, int) []float64) *Descriptor {
		return &Descriptor{
			ID: id, Category: CatRange, Summary: summary,
			Params:   []Param{price("source", builtin), length("length")},
			Implicit: []string{"source"},
			Outputs:  []string{"value"},
			Fn: func(s [][]float64, k []float64) [][]float64 {
				return one(fn(s[0], n(k[0])))
			},
		}
	}
	return []*Descriptor{
		sourced("ta.highest", "high", "highest value over length bars", Highest),
		sourced("ta.lowest", "low", "lowest value over length bars", Lowest),
		sourced("ta.highestbars", "high", "offset to the highest bar", HighestBars),
		sourced("ta.lowestbars", "low", "offset to the lowest bar", LowestBars),
		windowed("ta.median", CatRange, "median over length bars", Median),
		windowed("ta.range", CatRange, "highest minus lowest", Range),
		windowed("ta.percentrank", CatRange, "percent rank", PercentRank),
	}
}

func predicates() []*Descriptor {
	pair := func(id, summary string, fn func(a, b []float64) []float64) *Descriptor {
		return &Descriptor{
			ID: id, Category: CatPredicate, Summary: summary,
			Params:  []Param{series("source1"), series("source2")},
			Outputs: []string{"value"},
			Bool:    true,
			Fn: func(s [][]float64, _ []float64) [][]float64 {
				return one(fn(s[0], s[1]))
			},
		}
	}
	rising := windowed("ta.rising", CatPredicate, "rising for length bars", Rising)
	rising.Bool = true
	falling := windowed("ta.falling", CatPredicate, "falling for length bars", Falling)
	falling.Bool = true
	return []*Descriptor{
		pair("ta.crossover", "source1 crosses above source2", Crossover),
		pair("ta.crossunder", "source1 crosses below source2", Crossunder),
		pair("ta.cross", "source1 crosses source2", Cross),
		rising,
		falling,
	}
}

func misc() []*Descriptor {
	pivot := func(id, builtin, summary string, fn func([]float64, int, int) []float64) *Descriptor {
		return &Descriptor{
			ID: id, Category: CatMisc, Summary: summary,
			Params:   []Param{price("source", builtin), length("leftbars"), length("rightbars")},
			Implicit: []string{"source"},
			Outputs:  []string{"value"},
			Fn: func(s [][]float64, k []float64) [][]float64 {
				return one(fn(s[0], n(k[0]), n(k[1])))
			},
		}
	}
	return []*Descriptor{
		{
			ID: "ta.cum", Category: CatMisc, Summary: "cumulative sum",
			Params:  []Param{series("source")},
			Outputs: []string{"value"},
			Fn:      func(s [][]float64, _ []float64) [][]float64 { return one(Cum(s[0])) },
		},
		{
			ID: "ta.correlation", Category: CatMisc, Summary: "Pearson correlation",
			Params:  []Param{series("source1"), series("source2"), length("length")},
			Outputs: []string{"value"},
			Fn: func(s [][]float64, k []float64) [][]float64 {
				return one(Correlation(s[0], s[1], n(k[0])))
			},
		},
		pivot("ta.pivothigh", "high", "pivot high confirmed rightbars later", PivotHigh),
		pivot("ta.pivotlow", "low", "pivot low confirmed rightbars later", PivotLow),
		{
			ID: "ta.barssince", Category: CatMisc, Summary: "bars since condition was true",
			Params:  []Param{series("condition")},
			Outputs: []string{"value"},
			Fn:      func(s [][]float64, _ []float64) [][]float64 { return one(BarsSince(s[0])) },
		},
		{
			ID: "ta.valuewhen", Category: CatMisc, Summary: "source at the n-th most recent true condition",
			Params:  []Param{series("condition"), series("source"), intParam("occurrence")},
			Outputs: []string{"value"},
			Fn: func(s [][]float64, k []float64) [][]float64 {
				return one(ValueWhen(s[0], s[1], n(k[0])))
			},
		},
		{
			ID: "nz", Category: CatMisc, Summary: "replace undefined values",
			Params:  []Param{series("source"), {Name: "replacement", Kind: SeriesParam, Optional: true}},
			Outputs: []string{"value"},
			Fn:      func(s [][]float64, _ []float64) [][]float64 { return one(NZ(s[0], s[1])) },
		},
		{
			ID: "na", Category: CatMisc, Summary: "true where undefined",
			Params:  []Param{series("source")},
			Outputs: []string{"value"},
			Bool:    true,
			Fn:      func(s [][]float64, _ []float64) [][]float64 { return one(NA(s[0])) },
		},
		{
			ID: "fixnan", Category: CatMisc, Summary: "carry the last defined value forward",
			Params:  []Param{series("source")},
			Outputs: []string{"value"},
			Fn:      func(s [][]float64, _ []float64) [][]float64 { return one(FixNaN(s[0])) },
		},
	}
}

func volume() []*Descriptor {
	return []*Descriptor{
		{
			ID: "ta.obv", Category: CatVolume, Summary: "on-balance volume",
			Params:   []Param{price("close", "close"), price("volume", "volume")},
			Implicit: []string{"close", "volume"},
			Outputs:  []string{"value"},
			Variable: true,
			Fn:       func(s [][]float64, _ []float64) [][]float64 { return one(OBV(s[0], s[1])) },
		},
		{
			ID: "ta.accdist", Category: CatVolume, Summary: "accumulation/distribution",
			Params:   append(hlcParams(), price("volume", "volume")),
			Implicit: []string{"high", "low", "close", "volume"},
			Outputs:  []string{"value"},
			Variable: true,
			Fn: func(s [][]float64, _ []float64) [][]float64 {
				return one(AccDist(s[0], s[1], s[2], s[3]))
			},
		},
		{
			ID: "ta.pvt", Category: CatVolume, Summary: "price-volume trend",
			Params:   []Param{price("close", "close"), price("volume", "volume")},
			Implicit: []string{"close", "volume"},
			Outputs:  []string{"value"},
			Variable: true,
			Fn:       func(s [][]float64, _ []float64) [][]float64 { return one(PVT(s[0], s[1])) },
		},
	}
}

func mathFuncs() []*Descriptor {
	variadic := func(id, summary string, fn func(...[]float64) []float64) *Descriptor {
		return &Descriptor{
			ID: id, Category: CatMath, Summary: summary,
			Params:   []Param{series("value1"), series("value2")},
			Outputs:  []string{"value"},
			Variadic: true,
			Fn:       func(s [][]float64, _ []float64) [][]float64 { return one(fn(s...)) },
		}
	}
	return []*Descriptor{
		elementwise("math.abs", "absolute value", mathOf(math.Abs)),
		elementwise("math.sqrt", "square root", Sqrt),
		elementwise("math.log", "natural logarithm", Log),
		elementwise("math.log10", "base-10 logarithm", Log10),
		elementwise("math.exp", "e raised to the power", mathOf(math.Exp)),
		elementwise("math.floor", "round down", mathOf(math.Floor)),
		elementwise("math.ceil", "round up", mathOf(math.Ceil)),
		elementwise("math.sign", "sign", mathOf(sign)),
		{
			ID: "math.round", Category: CatMath, Summary: "round to precision decimals",
			Params:  []Param{series("source"), intOr("precision", 0)},
			Outputs: []string{"value"},
			Fn: func(s [][]float64, k []float64) [][]float64 {
				return one(Round(s[0], n(k[0])))
			},
		},
		{
			ID: "math.pow", Category: CatMath, Summary: "base raised to exponent",
			Params:  []Param{series("base"), series("exponent")},
			Outputs: []string{"value"},
			Fn:      func(s [][]float64, _ []float64) [][]float64 { return one(Pow(s[0], s[1])) },
		},
		variadic("math.max", "largest argument", MaxOf),
		variadic("math.min", "smallest argument", MinOf),
		variadic("math.avg", "mean of the arguments", AvgOf),
		windowed("math.sum", CatMath, "rolling sum over length bars", Sum),
	}
}
