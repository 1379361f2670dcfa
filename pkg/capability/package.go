package capability

import (
	"context"

	"github.com/openfroyo/scripthost/pkg/packages"
	"github.com/openfroyo/scripthost/pkg/value"
)

// NewPackage exposes a package manager. Backend failures are reported in
// the result object with success=false and are never raised.
func NewPackage(mgr packages.Manager) *Object {
	const name = NamePackage

	install := func(ctx context.Context, args Args) (value.Value, error) {
		pkg, err := args.String(0)
		if err != nil {
			return value.Null(), err
		}
		version, err := args.OptString(1, "")
		if err != nil {
			return value.Null(), err
		}
		res, err := mgr.Install(ctx, pkg, version)
		return packageResult(pkg, version, res, err), nil
	}
	uninstall := func(ctx context.Context, args Args) (value.Value, error) {
		pkg, err := args.String(0)
		if err != nil {
			return value.Null(), err
		}
		res, err := mgr.Uninstall(ctx, pkg)
		return packageResult(pkg, "", res, err), nil
	}
	update := func(ctx context.Context, args Args) (value.Value, error) {
		pkg, err := args.String(0)
		if err != nil {
			return value.Null(), err
		}
		res, err := mgr.Update(ctx, pkg)
		return packageResult(pkg, "", res, err), nil
	}
	search := func(ctx context.Context, args Args) (value.Value, error) {
		query, err := args.String(0)
		if err != nil {
			return value.Null(), err
		}
		res, err := mgr.Search(ctx, query)
		return packageResult(query, "", res, err), nil
	}

	return &Object{
		Name: name,
		Methods: []Method{
			syncMethod(name, "install", install),
			asyncMethod(name, "install", install),
			syncMethod(name, "uninstall", uninstall),
			asyncMethod(name, "uninstall", uninstall),
			syncMethod(name, "update", update),
			asyncMethod(name, "update", update),
			syncMethod(name, "search", search),
			asyncMethod(name, "search", search),
		},
		Properties: []Property{{
			Name: "list",
			Get: func(ctx context.Context) (value.Value, error) {
				names, err := mgr.List(ctx)
				if err != nil {
					return value.Array(), nil
				}
				return value.Strings(names), nil
			},
		}},
	}
}

func packageResult(pkg, version string, res *packages.Result, err error) value.Value {
	if err != nil {
		res = &packages.Result{Message: err.Error(), PackageName: pkg, Version: version}
	}
	if res == nil {
		res = &packages.Result{PackageName: pkg, Version: version}
	}
	return value.FromObject(value.NewObject().
		Set("success", value.Bool(res.Success)).
		Set("message", value.String(res.Message)).
		Set("packageName", value.String(res.PackageName)).
		Set("version", value.String(res.Version)).
		Set("path", value.String(res.Path)).
		Set("list", value.Strings(res.List)))
}
