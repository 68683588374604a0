package ocrsession

// supportedLanguages is the static capability list exposed to the web
// layer; the codes follow the OCR.space naming.
var supportedLanguages = []string{
	"ara", "bul", "chs", "cht", "hrv", "cze", "dan",
	"dut", "eng", "fin", "fre", "ger", "gre", "hun",
	"kor", "ita", "jpn", "pol", "por", "rus", "slv",
	"spa", "swe", "tur",
}

// SupportedLanguages returns the language codes the engine accepts.
func SupportedLanguages() []string {
	out := make([]string, len(supportedLanguages))
	copy(out, supportedLanguages)
	return out
}
