package lnpay

// paymentRequest is the create-payment body
type paymentRequest struct {
	Out    bool   `json:"out"`
	Bolt11 string `json:"bolt11"`
}

// paymentResponse is the response to a create-payment call
type paymentResponse struct {
	PaymentHash string `json:"payment_hash"`
	CheckingID  string `json:"checking_id,omitempty"`
}

// paymentStatus is the response from the payment details endpoint
type paymentStatus struct {
	Paid     bool   `json:"paid"`
	Preimage string `json:"preimage,omitempty"`
	Details  struct {
		Bolt11 string `json:"bolt11,omitempty"`
		Fee    int64  `json:"fee,omitempty"`
	} `json:"details,omitempty"`
}
