package ledger

// Guard answers authorization questions against a ledger's stored admin.
// It compares identities only; proving that a caller controls an identity
// happens at the host boundary (see internal/auth).
type Guard struct {
	r Reader
}

// NewGuard returns a Guard reading from r.
func NewGuard(r Reader) Guard {
	return Guard{r: r}
}

// IsInitialized reports whether an admin has been set.
func (g Guard) IsInitialized() (bool, error) {
	_, ok, err := g.r.Admin()
	if err != nil {
		return false, wrapBackend("read admin", err)
	}
	return ok, nil
}

// RequireAdmin fails with ErrNotInitialized when no admin is set, and with
// ErrUnauthorized when caller is not exactly the admin.
func (g Guard) RequireAdmin(caller Identity) error {
	admin, ok, err := g.r.Admin()
	if err != nil {
		return wrapBackend("read admin", err)
	}
	if !ok {
		return newError(CodeNotInitialized, "", "ledger has no admin")
	}
	if caller == "" || caller != admin {
		return newError(CodeUnauthorized, string(caller), "caller is not the ledger admin")
	}
	return nil
}

// initializeAdmin sets admin once. caller must be the admin itself: the
// host proved caller's identity, and nobody may register someone else.
func initializeAdmin(tx Tx, caller, admin Identity, now int64) error {
	ok, err := NewGuard(tx).IsInitialized()
	if err != nil {
		return err
	}
	if ok {
		return newError(CodeAlreadyInitialized, "", "admin already set")
	}
	if err := ValidateIdentifier(string(admin)); err != nil {
		return err
	}
	if caller != admin {
		return newError(CodeUnauthorized, string(caller), "caller must be the identity being registered")
	}
	if err := tx.SetAdmin(admin, now); err != nil {
		return wrapBackend("set admin", err)
	}
	return nil
}
