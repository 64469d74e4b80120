package proximity

// builtinLines is the shipped snapshot of the station-line dataset. The
// yaml/xlsx loaders extend or override it at startup when a newer file is
// configured.
var builtinLines = map[string][]string{
	"Baker Street":          {"Bakerloo", "Circle", "Hammersmith & City", "Jubilee", "Metropolitan"},
	"Bank":                  {"Central", "Northern", "Waterloo & City", "DLR"},
	"Bond Street":           {"Central", "Jubilee", "Elizabeth line"},
	"Brixton":               {"Victoria"},
	"Canada Water":          {"Jubilee", "Windrush"},
	"Canary Wharf":          {"Jubilee", "Elizabeth line", "DLR"},
	"Clapham Common":        {"Northern"},
	"Earl's Court":          {"District", "Piccadilly"},
	"Euston":                {"Northern", "Victoria"},
	"Finsbury Park":         {"Piccadilly", "Victoria"},
	"Green Park":            {"Jubilee", "Piccadilly", "Victoria"},
	"Hammersmith":           {"Circle", "District", "Hammersmith & City", "Piccadilly"},
	"Highbury & Islington":  {"Victoria", "Mildmay"},
	"King's Cross St. Pancras": {"Circle", "Hammersmith & City", "Metropolitan", "Northern", "Piccadilly", "Victoria"},
	"Liverpool Street":      {"Central", "Circle", "Hammersmith & City", "Metropolitan", "Elizabeth line"},
	"London Bridge":         {"Jubilee", "Northern"},
	"Mile End":              {"Central", "District", "Hammersmith & City"},
	"Notting Hill Gate":     {"Central", "Circle", "District"},
	"Oxford Circus":         {"Bakerloo", "Central", "Victoria"},
	"Paddington":            {"Bakerloo", "Circle", "District", "Elizabeth line"},
	"Stratford":             {"Central", "Jubilee", "DLR", "Elizabeth line", "Mildmay"},
	"Tottenham Court Road":  {"Central", "Northern", "Elizabeth line"},
	"Vauxhall":              {"Victoria"},
	"Victoria":              {"Circle", "District", "Victoria"},
	"Waterloo":              {"Bakerloo", "Jubilee", "Northern", "Waterloo & City"},
	"Westminster":           {"Circle", "District", "Jubilee"},
	"Whitechapel":           {"District", "Hammersmith & City", "Elizabeth line", "Windrush"},
}
