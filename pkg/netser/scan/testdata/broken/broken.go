package broken

func OnBroken(state any, n int) {
	var s string = n
	_ = s
}
