package compat

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/TEN-framework/ten-framework-sub001/pkg/graph"
	"github.com/TEN-framework/ten-framework-sub001/pkg/msgconversion"
	"github.com/TEN-framework/ten-framework-sub001/pkg/pkginfo"
	"github.com/TEN-framework/ten-framework-sub001/pkg/schema"
)

// Options configures a Checker
type Options struct {
	// BaseDir is the app a graph belongs to; nodes without an app resolve there
	BaseDir string

	// IgnoreMissingApps skips edges whose app has no cached packages
	IgnoreMissingApps bool

	// LenientResult accepts a command result declared on only one side
	LenientResult bool
}

// Checker verifies graph edges against the schemas of the installed addons.
// It implements graph.Checker.
type Checker struct {
	cache  *pkginfo.Cache
	opts   Options
	logger zerolog.Logger
}

var _ graph.Checker = (*Checker)(nil)

// NewChecker creates a checker resolving addons through cache
func NewChecker(cache *pkginfo.Cache, opts Options, logger zerolog.Logger) *Checker {
	return &Checker{
		cache:  cache,
		opts:   opts,
		logger: logger.With().Str("component", "compat-checker").Logger(),
	}
}

// CheckConnection verifies one source→destination edge of g
func (c *Checker) CheckConnection(g *graph.Graph, src graph.Loc, kind schema.MsgType, msgName string, dest graph.Destination) error {
	srcPkg, err := c.resolveNode(g, src)
	if err != nil || srcPkg == nil {
		return err
	}
	destPkg, err := c.resolveNode(g, dest.Loc())
	if err != nil || destPkg == nil {
		return err
	}

	if err := CheckEdge(srcPkg.Schema, destPkg.Schema, kind, msgName, dest.MsgConversion, c.opts.LenientResult); err != nil {
		return fmt.Errorf("%s %q from %s to %s: %w", kind, msgName, src, dest.Loc(), err)
	}
	return nil
}

// ValidateProperty validates a node property against its addon's property schema
func (c *Checker) ValidateProperty(app *string, addon string, property json.RawMessage) error {
	p, err := c.resolve(app, addon)
	if err != nil || p == nil || p.Schema == nil {
		return err
	}
	return schema.ValidateValue(p.Schema.Property, property)
}

// resolveNode returns the package of the node at loc. A nil package with a
// nil error means the app is missing and missing apps are ignored.
func (c *Checker) resolveNode(g *graph.Graph, loc graph.Loc) (*pkginfo.PkgInfo, error) {
	idx := g.FindNode(loc)
	if idx < 0 {
		return nil, fmt.Errorf("%w: %s is not a node of the graph", graph.ErrUnknownExtension, loc)
	}
	return c.resolve(loc.App, g.Nodes[idx].Addon)
}

func (c *Checker) resolve(app *string, addon string) (*pkginfo.PkgInfo, error) {
	p, err := c.cache.ResolveAddon(app, addon, c.opts.BaseDir)
	if err != nil {
		if c.opts.IgnoreMissingApps && errors.Is(err, pkginfo.ErrUnknownApp) {
			c.logger.Debug().
				Str("app", graph.AppURI(app)).
				Str("addon", addon).
				Msg("Skipping addon of missing app")
			return nil, nil
		}
		return nil, err
	}
	return p, nil
}

// CheckEdge checks a message of the given kind sent by the package with
// schema src to the package with schema dest, through conv when set.
//
// Commands are checked in both directions: the derived request against the
// callee's cmd_in, and the callee's result (through the result conversion)
// against the caller's cmd_out result.
func CheckEdge(src, dest *schema.Store, kind schema.MsgType, msgName string,
	conv *msgconversion.MsgAndResultConversion, lenientResult bool) error {
	var msgConv *msgconversion.MsgConversion
	if conv != nil {
		msgConv = &conv.MsgConversion
	}
	destName := msgConv.TargetName(msgName)

	if kind != schema.MsgCmd {
		target, err := msgconversion.DeriveTargetSchema(src.Msg(kind, schema.DirOut, msgName), msgConv)
		if err != nil {
			return err
		}
		return schema.Compatible(target, dest.Msg(kind, schema.DirIn, destName))
	}

	caller := src.Cmd(schema.DirOut, msgName)
	callee := dest.Cmd(schema.DirIn, destName)
	if conv == nil {
		return schema.CmdCompatible(caller, callee, lenientResult)
	}

	var callerMsg, callerResult, calleeMsg, calleeResult *schema.Attr
	if caller != nil {
		callerMsg, callerResult = caller.Msg, caller.Result
	}
	if callee != nil {
		calleeMsg, calleeResult = callee.Msg, callee.Result
	}

	target, err := msgconversion.DeriveTargetSchema(callerMsg, msgConv)
	if err != nil {
		return err
	}
	if err := schema.Compatible(target, calleeMsg); err != nil {
		return err
	}

	result, err := msgconversion.DeriveTargetSchema(calleeResult, conv.Result)
	if err != nil {
		return fmt.Errorf("result: %w", err)
	}
	return schema.ResultCompatible(result, callerResult, caller != nil && callee != nil, lenientResult)
}
