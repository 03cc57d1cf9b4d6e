package ldmodel

import (
	"github.com/launchdarkly/go-sdk-common/v3/ldattr"
	"github.com/launchdarkly/go-sdk-common/v3/ldcontext"
	"github.com/launchdarkly/go-sdk-common/v3/ldtime"
	"github.com/launchdarkly/go-sdk-common/v3/ldvalue"

	"github.com/launchdarkly/go-jsonstream/v3/jreader"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
)

// This file defines the JSON representation of flags and segments, using the same streaming
// JSON API that the rest of the data model types (ldvalue, ldreason) are built on. The wire
// JSON is the only untyped form of these items: deserialization always produces the parsed
// model, with preprocessing applied.

// UnmarshalJSON parses a feature flag from its JSON representation and preprocesses it.
func (f *FeatureFlag) UnmarshalJSON(data []byte) error {
	if err := jreader.UnmarshalJSONWithReader(data, f); err != nil {
		return err
	}
	PreprocessFlag(f)
	return nil
}

// MarshalJSON serializes a feature flag to its JSON representation.
func (f FeatureFlag) MarshalJSON() ([]byte, error) {
	return jwriter.MarshalJSONWithWriter(f)
}

// UnmarshalJSON parses a segment from its JSON representation and preprocesses it.
func (s *Segment) UnmarshalJSON(data []byte) error {
	if err := jreader.UnmarshalJSONWithReader(data, s); err != nil {
		return err
	}
	PreprocessSegment(s)
	return nil
}

// MarshalJSON serializes a segment to its JSON representation.
func (s Segment) MarshalJSON() ([]byte, error) {
	return jwriter.MarshalJSONWithWriter(s)
}

// ReadFromJSONReader provides JSON deserialization for use with the jsonstream API. Unlike
// UnmarshalJSON, it does not preprocess the flag.
func (f *FeatureFlag) ReadFromJSONReader(r *jreader.Reader) {
	var flag FeatureFlag
	for obj := r.ObjectOrNull(); obj.Next(); {
		switch string(obj.Name()) {
		case "key":
			flag.Key = r.String()
		case "on":
			flag.On = r.Bool()
		case "prerequisites":
			for arr := r.Array(); arr.Next(); {
				var p Prerequisite
				for pObj := r.Object(); pObj.Next(); {
					switch string(pObj.Name()) {
					case "key":
						p.Key = r.String()
					case "variation":
						p.Variation = r.Int()
					}
				}
				flag.Prerequisites = append(flag.Prerequisites, p)
			}
		case "targets":
			flag.Targets = readTargets(r)
		case "contextTargets":
			flag.ContextTargets = readTargets(r)
		case "rules":
			for arr := r.Array(); arr.Next(); {
				var rule FlagRule
				for rObj := r.Object(); rObj.Next(); {
					switch string(rObj.Name()) {
					case "id":
						rule.ID = r.String()
					case "variation":
						rule.Variation = ldvalue.NewOptionalInt(r.Int())
					case "rollout":
						rule.Rollout = readRollout(r)
					case "clauses":
						rule.Clauses = readClauses(r)
					case "trackEvents":
						rule.TrackEvents = r.Bool()
					}
				}
				flag.Rules = append(flag.Rules, rule)
			}
		case "fallthrough":
			for fObj := r.ObjectOrNull(); fObj.Next(); {
				switch string(fObj.Name()) {
				case "variation":
					flag.Fallthrough.Variation = ldvalue.NewOptionalInt(r.Int())
				case "rollout":
					flag.Fallthrough.Rollout = readRollout(r)
				}
			}
		case "offVariation":
			flag.OffVariation = ldvalue.NewOptionalInt(r.Int())
		case "variations":
			for arr := r.Array(); arr.Next(); {
				var v ldvalue.Value
				v.ReadFromJSONReader(r)
				flag.Variations = append(flag.Variations, v)
			}
		case "salt":
			flag.Salt = r.String()
		case "trackEvents":
			flag.TrackEvents = r.Bool()
		case "trackEventsFallthrough":
			flag.TrackEventsFallthrough = r.Bool()
		case "debugEventsUntilDate":
			flag.DebugEventsUntilDate = ldtime.UnixMillisecondTime(r.Float64())
		case "version":
			flag.Version = r.Int()
		case "deleted":
			flag.Deleted = r.Bool()
		case "samplingRatio":
			flag.SamplingRatio = ldvalue.NewOptionalInt(r.Int())
		case "excludeFromSummaries":
			flag.ExcludeFromSummaries = r.Bool()
		}
	}
	if r.Error() == nil {
		*f = flag
	}
}

// WriteToJSONWriter provides JSON serialization for use with the jsonstream API.
func (f FeatureFlag) WriteToJSONWriter(w *jwriter.Writer) {
	obj := w.Object()
	obj.Name("key").String(f.Key)
	obj.Name("on").Bool(f.On)
	prereqsArr := obj.Name("prerequisites").Array()
	for _, p := range f.Prerequisites {
		pObj := w.Object()
		pObj.Name("key").String(p.Key)
		pObj.Name("variation").Int(p.Variation)
		pObj.End()
	}
	prereqsArr.End()
	writeTargets(w, &obj, "targets", f.Targets, false)
	writeTargets(w, &obj, "contextTargets", f.ContextTargets, true)
	rulesArr := obj.Name("rules").Array()
	for _, rule := range f.Rules {
		rObj := w.Object()
		rObj.Maybe("id", rule.ID != "").String(rule.ID)
		writeVariationOrRollout(w, &rObj, rule.VariationOrRollout)
		writeClauses(w, &rObj, rule.Clauses)
		rObj.Name("trackEvents").Bool(rule.TrackEvents)
		rObj.End()
	}
	rulesArr.End()
	fObj := obj.Name("fallthrough").Object()
	writeVariationOrRollout(w, &fObj, f.Fallthrough)
	fObj.End()
	if f.OffVariation.IsDefined() {
		obj.Name("offVariation").Int(f.OffVariation.OrElse(0))
	}
	variationsArr := obj.Name("variations").Array()
	for _, v := range f.Variations {
		v.WriteToJSONWriter(w)
	}
	variationsArr.End()
	obj.Name("salt").String(f.Salt)
	obj.Name("trackEvents").Bool(f.TrackEvents)
	obj.Name("trackEventsFallthrough").Bool(f.TrackEventsFallthrough)
	if f.DebugEventsUntilDate > 0 {
		obj.Name("debugEventsUntilDate").Float64(float64(f.DebugEventsUntilDate))
	}
	obj.Name("version").Int(f.Version)
	obj.Name("deleted").Bool(f.Deleted)
	if f.SamplingRatio.IsDefined() {
		obj.Name("samplingRatio").Int(f.SamplingRatio.OrElse(0))
	}
	obj.Maybe("excludeFromSummaries", f.ExcludeFromSummaries).Bool(f.ExcludeFromSummaries)
	obj.End()
}

// ReadFromJSONReader provides JSON deserialization for use with the jsonstream API. Unlike
// UnmarshalJSON, it does not preprocess the segment.
func (s *Segment) ReadFromJSONReader(r *jreader.Reader) {
	var seg Segment
	for obj := r.ObjectOrNull(); obj.Next(); {
		switch string(obj.Name()) {
		case "key":
			seg.Key = r.String()
		case "included":
			seg.Included = readStrings(r)
		case "excluded":
			seg.Excluded = readStrings(r)
		case "includedContexts":
			seg.IncludedContexts = readSegmentTargets(r)
		case "excludedContexts":
			seg.ExcludedContexts = readSegmentTargets(r)
		case "salt":
			seg.Salt = r.String()
		case "rules":
			for arr := r.Array(); arr.Next(); {
				var rule SegmentRule
				var bucketBy string
				for rObj := r.Object(); rObj.Next(); {
					switch string(rObj.Name()) {
					case "id":
						rule.ID = r.String()
					case "clauses":
						rule.Clauses = readClauses(r)
					case "weight":
						rule.Weight = ldvalue.NewOptionalInt(r.Int())
					case "bucketBy":
						bucketBy = r.String()
					case "rolloutContextKind":
						rule.RolloutContextKind = ldcontext.Kind(r.String())
					}
				}
				rule.BucketBy = parseAttrRef(bucketBy, rule.RolloutContextKind)
				seg.Rules = append(seg.Rules, rule)
			}
		case "unbounded":
			seg.Unbounded = r.Bool()
		case "unboundedContextKind":
			seg.UnboundedContextKind = ldcontext.Kind(r.String())
		case "version":
			seg.Version = r.Int()
		case "generation":
			seg.Generation = ldvalue.NewOptionalInt(r.Int())
		case "deleted":
			seg.Deleted = r.Bool()
		}
	}
	if r.Error() == nil {
		*s = seg
	}
}

// WriteToJSONWriter provides JSON serialization for use with the jsonstream API.
func (s Segment) WriteToJSONWriter(w *jwriter.Writer) {
	obj := w.Object()
	obj.Name("key").String(s.Key)
	writeStrings(w, &obj, "included", s.Included)
	writeStrings(w, &obj, "excluded", s.Excluded)
	writeSegmentTargets(w, &obj, "includedContexts", s.IncludedContexts)
	writeSegmentTargets(w, &obj, "excludedContexts", s.ExcludedContexts)
	obj.Name("salt").String(s.Salt)
	rulesArr := obj.Name("rules").Array()
	for _, rule := range s.Rules {
		rObj := w.Object()
		rObj.Maybe("id", rule.ID != "").String(rule.ID)
		writeClauses(w, &rObj, rule.Clauses)
		if rule.Weight.IsDefined() {
			rObj.Name("weight").Int(rule.Weight.OrElse(0))
		}
		if rule.BucketBy.IsDefined() {
			rObj.Name("bucketBy").String(rule.BucketBy.String())
		}
		rObj.Maybe("rolloutContextKind", rule.RolloutContextKind != "").String(string(rule.RolloutContextKind))
		rObj.End()
	}
	rulesArr.End()
	obj.Maybe("unbounded", s.Unbounded).Bool(s.Unbounded)
	obj.Maybe("unboundedContextKind", s.UnboundedContextKind != "").String(string(s.UnboundedContextKind))
	obj.Name("version").Int(s.Version)
	if s.Generation.IsDefined() {
		obj.Name("generation").Int(s.Generation.OrElse(0))
	}
	obj.Name("deleted").Bool(s.Deleted)
	obj.End()
}

func readTargets(r *jreader.Reader) []Target {
	var targets []Target
	for arr := r.Array(); arr.Next(); {
		var t Target
		for obj := r.Object(); obj.Next(); {
			switch string(obj.Name()) {
			case "contextKind":
				t.ContextKind = ldcontext.Kind(r.String())
			case "values":
				t.Values = readStrings(r)
			case "variation":
				t.Variation = r.Int()
			}
		}
		targets = append(targets, t)
	}
	return targets
}

func writeTargets(w *jwriter.Writer, obj *jwriter.ObjectState, name string, targets []Target, withKind bool) {
	arr := obj.Name(name).Array()
	for _, t := range targets {
		tObj := w.Object()
		if withKind {
			tObj.Maybe("contextKind", t.ContextKind != "").String(string(t.ContextKind))
		}
		writeStrings(w, &tObj, "values", t.Values)
		tObj.Name("variation").Int(t.Variation)
		tObj.End()
	}
	arr.End()
}

func readSegmentTargets(r *jreader.Reader) []SegmentTarget {
	var targets []SegmentTarget
	for arr := r.Array(); arr.Next(); {
		var t SegmentTarget
		for obj := r.Object(); obj.Next(); {
			switch string(obj.Name()) {
			case "contextKind":
				t.ContextKind = ldcontext.Kind(r.String())
			case "values":
				t.Values = readStrings(r)
			}
		}
		targets = append(targets, t)
	}
	return targets
}

func writeSegmentTargets(w *jwriter.Writer, obj *jwriter.ObjectState, name string, targets []SegmentTarget) {
	arr := obj.Name(name).Array()
	for _, t := range targets {
		tObj := w.Object()
		tObj.Maybe("contextKind", t.ContextKind != "").String(string(t.ContextKind))
		writeStrings(w, &tObj, "values", t.Values)
		tObj.End()
	}
	arr.End()
}

func readRollout(r *jreader.Reader) Rollout {
	var rollout Rollout
	var bucketBy string
	for obj := r.ObjectOrNull(); obj.Next(); {
		switch string(obj.Name()) {
		case "kind":
			rollout.Kind = RolloutKind(r.String())
		case "contextKind":
			rollout.ContextKind = ldcontext.Kind(r.String())
		case "variations":
			for arr := r.Array(); arr.Next(); {
				var wv WeightedVariation
				for wObj := r.Object(); wObj.Next(); {
					switch string(wObj.Name()) {
					case "variation":
						wv.Variation = r.Int()
					case "weight":
						wv.Weight = r.Int()
					case "untracked":
						wv.Untracked = r.Bool()
					}
				}
				rollout.Variations = append(rollout.Variations, wv)
			}
		case "bucketBy":
			bucketBy = r.String()
		case "seed":
			rollout.Seed = ldvalue.NewOptionalInt(r.Int())
		}
	}
	rollout.BucketBy = parseAttrRef(bucketBy, rollout.ContextKind)
	return rollout
}

func readClauses(r *jreader.Reader) []Clause {
	var clauses []Clause
	for arr := r.Array(); arr.Next(); {
		var c Clause
		var attribute string
		for obj := r.Object(); obj.Next(); {
			switch string(obj.Name()) {
			case "contextKind":
				c.ContextKind = ldcontext.Kind(r.String())
			case "attribute":
				attribute = r.String()
			case "op":
				c.Op = Operator(r.String())
			case "values":
				for vArr := r.Array(); vArr.Next(); {
					var v ldvalue.Value
					v.ReadFromJSONReader(r)
					c.Values = append(c.Values, v)
				}
			case "negate":
				c.Negate = r.Bool()
			}
		}
		c.Attribute = parseAttrRef(attribute, c.ContextKind)
		clauses = append(clauses, c)
	}
	return clauses
}

func writeVariationOrRollout(w *jwriter.Writer, obj *jwriter.ObjectState, vr VariationOrRollout) {
	if vr.Variation.IsDefined() {
		obj.Name("variation").Int(vr.Variation.OrElse(0))
	}
	if len(vr.Rollout.Variations) > 0 {
		rObj := obj.Name("rollout").Object()
		rObj.Maybe("kind", vr.Rollout.Kind != "").String(string(vr.Rollout.Kind))
		rObj.Maybe("contextKind", vr.Rollout.ContextKind != "").String(string(vr.Rollout.ContextKind))
		arr := rObj.Name("variations").Array()
		for _, wv := range vr.Rollout.Variations {
			wObj := w.Object()
			wObj.Name("variation").Int(wv.Variation)
			wObj.Name("weight").Int(wv.Weight)
			wObj.Maybe("untracked", wv.Untracked).Bool(wv.Untracked)
			wObj.End()
		}
		arr.End()
		if vr.Rollout.BucketBy.IsDefined() {
			rObj.Name("bucketBy").String(vr.Rollout.BucketBy.String())
		}
		if vr.Rollout.Seed.IsDefined() {
			rObj.Name("seed").Int(vr.Rollout.Seed.OrElse(0))
		}
		rObj.End()
	}
}

func writeClauses(w *jwriter.Writer, obj *jwriter.ObjectState, clauses []Clause) {
	arr := obj.Name("clauses").Array()
	for _, c := range clauses {
		cObj := w.Object()
		cObj.Maybe("contextKind", c.ContextKind != "").String(string(c.ContextKind))
		cObj.Name("attribute").String(c.Attribute.String())
		cObj.Name("op").String(string(c.Op))
		valuesArr := cObj.Name("values").Array()
		for _, v := range c.Values {
			v.WriteToJSONWriter(w)
		}
		valuesArr.End()
		cObj.Name("negate").Bool(c.Negate)
		cObj.End()
	}
	arr.End()
}

func readStrings(r *jreader.Reader) []string {
	var values []string
	for arr := r.ArrayOrNull(); arr.Next(); {
		values = append(values, r.String())
	}
	return values
}

func writeStrings(w *jwriter.Writer, obj *jwriter.ObjectState, name string, values []string) {
	arr := obj.Name(name).Array()
	for _, v := range values {
		w.String(v)
	}
	arr.End()
}

// parseAttrRef interprets an attribute name according to the schema in use: if a context kind
// was specified on the enclosing object, the attribute is a slash-delimited path reference;
// otherwise it is a literal attribute name from the older schema.
func parseAttrRef(s string, contextKind ldcontext.Kind) ldattr.Ref {
	if s == "" {
		return ldattr.Ref{}
	}
	if contextKind == "" {
		return ldattr.NewLiteralRef(s)
	}
	return ldattr.NewRef(s)
}
