package sdp

import "errors"

var (
	ErrOfferAnswerInProgress = errors.New("sdp: offer/answer exchange already in progress")
	ErrUnexpectedAnswer      = errors.New("sdp: answer received in the wrong direction")
	ErrNoOfferInProgress     = errors.New("sdp: no offer/answer exchange in progress")
	ErrNoMediaDescription    = errors.New("sdp: session has no media descriptions")
	ErrNoCommonCodec         = errors.New("sdp: no common codec between offer and local capabilities")
)
