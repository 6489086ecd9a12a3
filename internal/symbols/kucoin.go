package symbols

import "strings"

// ToKucoinFutures converts a Bybit linear symbol to the KuCoin futures
// contract name. KuCoin prefixes Bitcoin with XBT and suffixes perpetual
// contracts with 'M'.
//
//	BTCUSDT -> XBTUSDTM
//	ETHUSDT -> ETHUSDTM
func ToKucoinFutures(sym string) string {
	if strings.HasPrefix(sym, "BTC") {
		sym = "XBT" + sym[3:]
	}
	return sym + "M"
}

// NormalizeKucoinSymbol converts KuCoin futures symbols back to the common
// format, the inverse of ToKucoinFutures.
// Examples:
//
//	XBTUSDTM -> BTCUSDT
//	ETHUSDTM -> ETHUSDT
//
// The function removes dashes, trims trailing 'M', and maps XBT->BTC.
func NormalizeKucoinSymbol(sym string) string {
	// remove dashes
	sym = strings.ReplaceAll(sym, "-", "")
	// trim trailing 'M' denoting futures
	sym = strings.TrimSuffix(sym, "M")
	// map XBT to BTC for compatibility
	if strings.HasPrefix(sym, "XBT") {
		sym = "BTC" + sym[3:]
	}
	return sym
}
