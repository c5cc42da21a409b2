package prompt

import (
	"fmt"
	"strings"
)

const DefaultLocale = "fr"

// Message keys of the localized catalog.
const (
	MsgEmptyMessage      = "router.empty_message"
	MsgPrivateRequired   = "router.private_required"
	MsgProviderFallback  = "fallback.provider"
	MsgToolLimit         = "loop.tool_limit"
	MsgSummaryTitle      = "reservation.summary.title"
	MsgSummarySpace      = "reservation.summary.space"
	MsgSummaryDates      = "reservation.summary.dates"
	MsgSummaryTimes      = "reservation.summary.times"
	MsgSummaryNight      = "reservation.summary.night"
	MsgSummaryNights     = "reservation.summary.nights"
	MsgSummaryDay        = "reservation.summary.day"
	MsgSummaryPrice      = "reservation.summary.price"
	MsgSummaryConfirm    = "reservation.summary.confirm"
	MsgReservationDone   = "reservation.confirmed"
	MsgReservationLink   = "reservation.link"
	MsgReservationCancel = "reservation.canceled"
	MsgReservationFailed = "reservation.create_failed"
	MsgReservationError  = "reservation.error"
	MsgMissingFields     = "reservation.missing_fields"
	MsgTooManySwitches   = "reservation.too_many_switches"
	MsgPaymentLink       = "reservation.payment_link"
	MsgPaymentFailed     = "reservation.payment_failed"
	MsgPaymentConfirmed  = "reservation.payment_confirmed"
	MsgPaymentPending    = "reservation.payment_pending"
)

var catalog = map[string]map[string]string{
	"fr": {
		MsgEmptyMessage:      "Je n'ai pas compris votre message. Pouvez-vous reformuler ?",
		MsgPrivateRequired:   "Pour protéger vos informations, les réservations se font uniquement en conversation privée. Écrivez-moi en message privé pour continuer.",
		MsgProviderFallback:  "Désolé, je rencontre un problème technique. Veuillez réessayer dans quelques instants.",
		MsgToolLimit:         "J'ai atteint la limite d'appels d'outils. Veuillez reformuler votre demande.",
		MsgSummaryTitle:      "Récapitulatif de votre réservation :",
		MsgSummarySpace:      "Espace : %s",
		MsgSummaryDates:      "Du %s au %s",
		MsgSummaryTimes:      "Horaires : %s - %s",
		MsgSummaryNight:      "Durée : %d nuit",
		MsgSummaryNights:     "Durée : %d nuits",
		MsgSummaryDay:        "Durée : 1 jour",
		MsgSummaryPrice:      "Prix : %s",
		MsgSummaryConfirm:    "Confirmez-vous cette réservation ? (oui/non)",
		MsgReservationDone:   "Votre réservation est enregistrée. Numéro : %s, statut : %s.",
		MsgReservationLink:   "Détails : %s",
		MsgReservationCancel: "D'accord, j'ai annulé la demande de réservation. N'hésitez pas si vous avez besoin d'autre chose.",
		MsgReservationFailed: "La réservation n'a pas pu être créée : %s",
		MsgReservationError:  "Une erreur est survenue lors du traitement de votre réservation. Veuillez réessayer.",
		MsgMissingFields:     "Il me manque des informations pour continuer : %s.",
		MsgTooManySwitches:   "Je n'arrive pas à avancer dans votre réservation. Pouvez-vous reformuler votre demande ?",
		MsgPaymentLink:       "Pour finaliser votre réservation, procédez au paiement ici : %s",
		MsgPaymentFailed:     "Le lien de paiement n'a pas pu être généré : %s",
		MsgPaymentConfirmed:  "Merci, votre paiement a bien été reçu. Votre réservation %s est confirmée.",
		MsgPaymentPending:    "Votre paiement est en attente. Vous pouvez payer ici : %s",
	},
	"en": {
		MsgEmptyMessage:      "I did not understand your message. Could you rephrase it?",
		MsgPrivateRequired:   "To protect your information, reservations are only handled in a private conversation. Send me a direct message to continue.",
		MsgProviderFallback:  "Sorry, I am having a technical problem. Please try again in a moment.",
		MsgToolLimit:         "I reached the tool call limit. Please rephrase your request.",
		MsgSummaryTitle:      "Summary of your reservation:",
		MsgSummarySpace:      "Space: %s",
		MsgSummaryDates:      "From %s to %s",
		MsgSummaryTimes:      "Hours: %s - %s",
		MsgSummaryNight:      "Duration: %d night",
		MsgSummaryNights:     "Duration: %d nights",
		MsgSummaryDay:        "Duration: 1 day",
		MsgSummaryPrice:      "Price: %s",
		MsgSummaryConfirm:    "Do you confirm this reservation? (yes/no)",
		MsgReservationDone:   "Your reservation is recorded. Number: %s, status: %s.",
		MsgReservationLink:   "Details: %s",
		MsgReservationCancel: "Alright, I canceled the reservation request. Let me know if you need anything else.",
		MsgReservationFailed: "The reservation could not be created: %s",
		MsgReservationError:  "Something went wrong while processing your reservation. Please try again.",
		MsgMissingFields:     "I am missing some information to continue: %s.",
		MsgTooManySwitches:   "I cannot move your reservation forward. Could you rephrase your request?",
		MsgPaymentLink:       "To finalize your reservation, please pay here: %s",
		MsgPaymentFailed:     "The payment link could not be generated: %s",
		MsgPaymentConfirmed:  "Thank you, your payment was received. Your reservation %s is confirmed.",
		MsgPaymentPending:    "Your payment is still pending. You can pay here: %s",
	},
}

// NormalizeLocale maps "en-US", "EN_gb", "fr" to a catalog locale, or ""
// when the language is not supported.
func NormalizeLocale(raw string) string {
	lang := strings.ToLower(strings.TrimSpace(raw))
	if i := strings.IndexAny(lang, "-_"); i >= 0 {
		lang = lang[:i]
	}
	if _, ok := catalog[lang]; ok {
		return lang
	}
	return ""
}

// ResolveLocale returns the first supported candidate, else DefaultLocale.
func ResolveLocale(candidates ...string) string {
	for _, c := range candidates {
		if l := NormalizeLocale(c); l != "" {
			return l
		}
	}
	return DefaultLocale
}

// Text renders key in locale. Unknown locales use DefaultLocale; unknown keys
// render as the key itself.
func Text(locale, key string, args ...any) string {
	msgs, ok := catalog[NormalizeLocale(locale)]
	if !ok {
		msgs = catalog[DefaultLocale]
	}
	format, ok := msgs[key]
	if !ok {
		format, ok = catalog[DefaultLocale][key]
		if !ok {
			return key
		}
	}
	if len(args) == 0 {
		return format
	}
	return fmt.Sprintf(format, args...)
}
