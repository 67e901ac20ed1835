package multipipes_test

import "golang.org/x/xerrors"

// errBoom is a sentinel error shared by tests that need a target to fail
// deterministically.
var errBoom = xerrors.New("boom")
