package status

import "strings"

// carrierAliases — нормализация названий перевозчиков к коду.
// Ключи в нижнем регистре.
var carrierAliases = map[string]string{
	"maersk":                  "MAERSK",
	"maersk line":             "MAERSK",
	"a.p. moller - maersk":    "MAERSK",
	"msc":                     "MSC",
	"mediterranean shipping company": "MSC",
	"cma cgm":                 "CMA_CGM",
	"cma-cgm":                 "CMA_CGM",
	"hapag lloyd":             "HAPAG_LLOYD",
	"hapag-lloyd":             "HAPAG_LLOYD",
	"cosco":                   "COSCO",
	"cosco shipping":          "COSCO",
	"evergreen":               "EVERGREEN",
	"evergreen line":          "EVERGREEN",
	"one":                     "ONE",
	"ocean network express":   "ONE",
	"yang ming":               "YANG_MING",
	"zim":                     "ZIM",
	"hmm":                     "HMM",
	"hyundai merchant marine":  "HMM",
	"dhl":                     "DHL",
	"dhl express":             "DHL",
	"dhl ecommerce":           "DHL",
	"fedex":                   "FEDEX",
	"federal express":         "FEDEX",
	"ups":                     "UPS",
	"united parcel service":   "UPS",
	"gls":                     "GLS",
	"gls italy":               "GLS",
	"tnt":                     "TNT",
	"dpd":                     "DPD",
	"brt":                     "BRT",
	"bartolini":               "BRT",
	"sda":                     "SDA",
	"poste italiane":          "POSTE_ITALIANE",
	"cargolux":                "CARGOLUX",
	"lufthansa cargo":         "LUFTHANSA_CARGO",
	"emirates skycargo":       "EMIRATES_SKYCARGO",
}

// Для подстрочного поиска порядок важен: длинные алиасы раньше коротких,
// чтобы "hapag-lloyd express" не промахнулся на чём-то коротком вроде "one".
var substringAliases = []struct {
	alias string
	code  string
}{
	{"mediterranean shipping company", "MSC"},
	{"ocean network express", "ONE"},
	{"hyundai merchant marine", "HMM"},
	{"united parcel service", "UPS"},
	{"federal express", "FEDEX"},
	{"hapag-lloyd", "HAPAG_LLOYD"},
	{"hapag lloyd", "HAPAG_LLOYD"},
	{"yang ming", "YANG_MING"},
	{"evergreen", "EVERGREEN"},
	{"cma cgm", "CMA_CGM"},
	{"cma-cgm", "CMA_CGM"},
	{"bartolini", "BRT"},
	{"maersk", "MAERSK"},
	{"cosco", "COSCO"},
	{"fedex", "FEDEX"},
	{"msc", "MSC"},
	{"dhl", "DHL"},
	{"ups", "UPS"},
	{"gls", "GLS"},
	{"tnt", "TNT"},
	{"dpd", "DPD"},
	{"zim", "ZIM"},
}

const maxCarrierCodeLen = 20

// ResolveCarrier подбирает код перевозчика: точный алиас, затем вхождение
// подстроки, иначе усечённое сырое значение в верхнем регистре.
func ResolveCarrier(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	if s == "" {
		return ""
	}
	if code, ok := carrierAliases[s]; ok {
		return code
	}
	for _, a := range substringAliases {
		if strings.Contains(s, a.alias) {
			return a.code
		}
	}
	raw := strings.ToUpper(strings.Join(strings.Fields(s), "_"))
	if len(raw) > maxCarrierCodeLen {
		raw = raw[:maxCarrierCodeLen]
	}
	return raw
}
