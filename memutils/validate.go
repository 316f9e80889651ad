package memutils

// Validatable is implemented by every structure that can check its own internal consistency:
// hole sets, managers, and address spaces. DebugValidate acts upon it.
type Validatable interface {
	Validate() error
}
