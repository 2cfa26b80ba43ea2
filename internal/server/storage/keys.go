package storage

const (
	ContentTypePDF       = "application/pdf"
	ContentTypeSignature = "application/octet-stream"
)

// OriginalKey is where the document service stores an uploaded document.
func OriginalKey(documentID string) string {
	return "documents/" + documentID + ".pdf"
}

func SealedKey(sealedDocumentID string) string {
	return "sealed/" + sealedDocumentID + ".pdf"
}

func SealSignatureKey(sealedDocumentID string) string {
	return "sealed/" + sealedDocumentID + ".sig"
}
