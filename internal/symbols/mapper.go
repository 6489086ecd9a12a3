package symbols

// ToBinanceFutures converts a Bybit linear symbol to its Binance USDT-perp
// equivalent. Both venues agree for the majors; only the 1000x contracts
// spell their prefix differently.
func ToBinanceFutures(sym string) string {
	switch sym {
	case "SHIB1000USDT":
		return "1000SHIBUSDT"
	case "LUNC1000USDT":
		return "1000LUNCUSDT"
	case "XEC1000USDT":
		return "1000XECUSDT"
	}
	return sym
}
