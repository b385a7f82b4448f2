package notify

import (
	"fmt"
	"strings"

	"github.com/MrEthical07/hostauth"
)

var subjects = map[hostauth.NotificationKind]string{
	hostauth.NotifyNewLogin:                 "New sign-in to your %s account",
	hostauth.NotifyPasswordChanged:          "Your %s password was changed",
	hostauth.NotifySecondFactorEnabled:      "Two-factor authentication enabled on %s",
	hostauth.NotifySecondFactorDisabled:     "Two-factor authentication disabled on %s",
	hostauth.NotifyRecoveryCodesRegenerated: "New %s recovery codes were generated",
}

var leads = map[hostauth.NotificationKind]string{
	hostauth.NotifyNewLogin:                 "We noticed a sign-in to your account from a new address.",
	hostauth.NotifyPasswordChanged:          "The password on your account was changed and all other sessions were signed out.",
	hostauth.NotifySecondFactorEnabled:      "Two-factor authentication is now required when you sign in.",
	hostauth.NotifySecondFactorDisabled:     "Two-factor authentication was turned off. Your account is now protected by your password only.",
	hostauth.NotifyRecoveryCodesRegenerated: "A new set of recovery codes was generated. Your previous codes no longer work.",
}

// render returns the subject and plain-text body for n.
func render(product string, n hostauth.Notification) (string, string) {
	subject, ok := subjects[n.Kind]
	if !ok {
		subject = "Security notice for your %s account"
	}
	lead := leads[n.Kind]
	if lead == "" {
		lead = "There was security-relevant activity on your account."
	}

	var b strings.Builder
	b.WriteString(lead)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Time:       %s\n", n.OccurredAt.UTC().Format("2006-01-02 15:04:05 MST"))
	if n.OriginAddress != "" {
		fmt.Fprintf(&b, "IP address: %s\n", n.OriginAddress)
	}
	if n.OriginAgent != "" {
		fmt.Fprintf(&b, "Device:     %s\n", n.OriginAgent)
	}
	b.WriteString("\nIf this was not you, change your password immediately and contact support.\n")
	return fmt.Sprintf(subject, product), b.String()
}
