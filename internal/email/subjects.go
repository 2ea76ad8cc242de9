package email

const (
	subjectLeadCapturedFmt = "New chat lead: %s"
	subjectLeadUpgradedFmt = "Chat lead identified: %s"
)
