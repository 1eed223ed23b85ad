package catalogue

const baseURL = "https://www.boltdepot.com/"

var productWalkers = []Walker{
	{
		Name: "woodscrews",
		StartURLs: []string{
			baseURL + "Wood_screws_Phillips_flat_head.aspx",
			baseURL + "Wood_screws_Slotted_flat_head.aspx",
		},
	},
	{
		Name: "bolts",
		StartURLs: []string{
			baseURL + "Hex_bolts_2.aspx",
			baseURL + "Metric_hex_bolts_2.aspx",
		},
	},
	{
		Name: "nuts",
		StartURLs: []string{
			baseURL + "Hex_nuts.aspx",
			baseURL + "Square_nuts.aspx",
			baseURL + "Metric_hex_nuts.aspx",
		},
	},
	{
		Name: "threaded-rods",
		StartURLs: []string{
			baseURL + "Threaded_rod.aspx",
			baseURL + "Metric_threaded_rod.aspx",
		},
	},
}

var metricsWalkers = []Walker{
	{
		Name:      "d-woodscrew-diam",
		Kind:      KindMetrics,
		StartURLs: []string{baseURL + "fastener-information/Wood-Screws/Wood-Screw-Diameter.aspx"},
	},
	{
		Name:      "d-us-bolt-thread-len",
		Kind:      KindMetrics,
		StartURLs: []string{baseURL + "fastener-information/Bolts/US-Thread-Length.aspx"},
	},
	{
		Name:      "d-us-tpi",
		Kind:      KindMetrics,
		StartURLs: []string{baseURL + "fastener-information/Measuring/US-TPI.aspx"},
	},
	{
		Name:      "d-met-threadpitch",
		Kind:      KindMetrics,
		StartURLs: []string{baseURL + "fastener-information/Measuring/Metric-Thread-Pitch.aspx"},
	},
	{
		Name:      "d-met-boltheadsize",
		Kind:      KindMetrics,
		StartURLs: []string{baseURL + "fastener-information/Bolts/Metric-Bolt-Head-Size.aspx"},
	},
}

// BoltDepot returns the registry of every Bolt Depot catalogue and metrics table.
func BoltDepot() *Registry {
	walkers := make([]Walker, 0, len(productWalkers)+len(metricsWalkers))
	walkers = append(walkers, productWalkers...)
	walkers = append(walkers, metricsWalkers...)
	r, err := NewRegistry(walkers...)
	if err != nil {
		panic(err)
	}
	return r
}
