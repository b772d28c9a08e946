package app

// StarsForAmount converts a purchase amount in the smallest currency unit
// (cents) into Stars at the published rate of starsPerUnit Stars per whole
// currency unit. Integer arithmetic only; any sub-cent remainder after the
// division is floored. For whole-unit amounts (amountCents divisible by
// 100) the result is exact: StarsForAmount(a*100, r) == a*r.
//
// Invoked by the reconciliation engine when a stars purchase settles, and
// by the charge initiator to pre-compute the quantity on the pending
// transaction. Non-positive inputs yield zero Stars.
func StarsForAmount(amountCents, starsPerUnit int64) int64 {
	if amountCents <= 0 || starsPerUnit <= 0 {
		return 0
	}
	return amountCents * starsPerUnit / 100
}
