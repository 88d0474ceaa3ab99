package cmd

import (
	"github.com/spf13/pflag"

	"github.com/conneroisu/sowing/internal/session"
)

// pageRefValue is a pflag.Value holding a silo/page reference.
type pageRefValue struct {
	ref session.Ref
	set bool
}

var _ pflag.Value = (*pageRefValue)(nil)

func (v *pageRefValue) String() string {
	if !v.set {
		return ""
	}
	return v.ref.String()
}

func (v *pageRefValue) Set(s string) error {
	ref, err := session.ParseRef(s)
	if err != nil {
		return err
	}
	v.ref, v.set = ref, true
	return nil
}

func (v *pageRefValue) Type() string { return "silo/page" }

// parsePageArg parses a positional silo/page argument.
func parsePageArg(arg string) (session.Ref, error) {
	var v pageRefValue
	if err := v.Set(arg); err != nil {
		return session.Ref{}, err
	}
	return v.ref, nil
}
