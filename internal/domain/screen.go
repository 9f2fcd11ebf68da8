package domain

// Screen names a register UI route.
type Screen string

const (
	ScreenRegister           Screen = "register"
	ScreenEvents             Screen = "events"
	ScreenFacilities         Screen = "facilities"
	ScreenCheckout           Screen = "checkout"
	ScreenInsert             Screen = "insert"
	ScreenCollect            Screen = "collect"
	ScreenSuccess            Screen = "success"
	ScreenEmailReceipt       Screen = "email-receipt"
	ScreenScanner            Screen = "scanner"
	ScreenClaimTicketSuccess Screen = "claim-ticket-success"
	ScreenClaimTicketFail    Screen = "claim-ticket-fail"
)
