package wagonid

// Unknown is reported for type and authority codes missing from the tables.
const Unknown = "Unknown"

// wagonTypes maps the two-digit type code to the Indian Railways wagon class.
var wagonTypes = map[string]string{
	"10": "BOXN",
	"11": "BOXNHA",
	"12": "BOXNHS",
	"13": "BOXNCR",
	"14": "BOXNLW",
	"15": "BOXNB",
	"16": "BOXNF",
	"17": "BOXNG",
	"18": "BOY",
	"19": "BOST",
	"20": "BOXNAL",
	"21": "BOXN-HS",
	"22": "BOXNHL",
	"24": "BOXNS",
	"30": "BCN",
	"31": "BCNA",
	"32": "BCNAHS",
	"40": "BTPN",
	"41": "BTPGLN",
	"42": "BTALN",
	"43": "BTCS",
	"44": "BTPH",
	"45": "BTAP",
	"46": "BTFLN",
}

// authorities maps the two-digit owning railway code to its zone abbreviation.
var authorities = map[string]string{
	"01": "CR",
	"02": "ER",
	"03": "NR",
	"04": "NER",
	"05": "NFR",
	"06": "SR",
	"07": "SER",
	"08": "WR",
	"09": "SCR",
	"10": "EC",
	"11": "ECR",
	"12": "ECoR",
	"13": "NCR",
	"14": "SECR",
	"15": "WCR",
	"16": "NWR",
	"17": "SWR",
	"26": "Metro",
}

// TypeName returns the wagon class for a type code, or Unknown.
func TypeName(code string) string {
	if name, ok := wagonTypes[code]; ok {
		return name
	}
	return Unknown
}

// AuthorityName returns the owning railway for an authority code, or Unknown.
func AuthorityName(code string) string {
	if name, ok := authorities[code]; ok {
		return name
	}
	return Unknown
}
