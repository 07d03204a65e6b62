// Package fee содержит расчёт комиссии платформы в минорных единицах валюты.
package fee

// Split делит валовую сумму gross (в центах) на комиссию платформы и
// чистую сумму клиента. Комиссия округляется до ближайшего целого,
// половина — вверх (round half up). Для любых gross >= 0 выполняется
// fee + net == gross.
func Split(gross, percent int64) (feeCents, netCents int64) {
	if gross <= 0 || percent <= 0 {
		return 0, gross
	}

	feeCents = (gross*percent + 50) / 100
	if feeCents > gross {
		feeCents = gross
	}
	return feeCents, gross - feeCents
}
