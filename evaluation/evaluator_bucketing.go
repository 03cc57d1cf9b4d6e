package evaluation

import (
	"crypto/sha1" //nolint:gosec // SHA1 is weak, but it is not hashing any credentials here
	"encoding/hex"
	"strconv"

	"github.com/launchdarkly/go-sdk-common/v3/ldattr"
	"github.com/launchdarkly/go-sdk-common/v3/ldcontext"
	"github.com/launchdarkly/go-sdk-common/v3/ldvalue"

	"github.com/launchdarkly/go-server-sdk-core/evaluation/ldmodel"
)

const longScale = float64(0xFFFFFFFFFFFFFFF)

// variationOrRolloutResult resolves a fixed variation or a percentage rollout to a variation
// index, also reporting whether the result counts as being in an experiment.
func (es *evaluationScope) variationOrRolloutResult(
	vr ldmodel.VariationOrRollout,
	flagKey, salt string,
) (index int, inExperiment bool, err error) {
	if vr.Variation.IsDefined() {
		return vr.Variation.OrElse(0), false, nil
	}
	if len(vr.Rollout.Variations) == 0 {
		return -1, false, emptyRolloutError{}
	}

	isExperiment := vr.Rollout.IsExperiment()
	bucketBy := vr.Rollout.BucketBy
	if isExperiment {
		bucketBy = ldattr.Ref{} // experiments always bucket by the context key
	}
	bucket, err := es.computeBucketValue(vr.Rollout.Seed, vr.Rollout.ContextKind, flagKey, bucketBy, salt)
	if err != nil {
		return -1, false, err
	}

	var sum float64
	for _, wv := range vr.Rollout.Variations {
		sum += float64(wv.Weight) / 100000
		if bucket < sum {
			return wv.Variation, isExperiment && !wv.Untracked, nil
		}
	}
	// The bucket value was at or past the end of the weight ranges, which can happen if the
	// weights do not sum to 100000. Use the last bucket.
	lastVariation := vr.Rollout.Variations[len(vr.Rollout.Variations)-1]
	return lastVariation.Variation, isExperiment && !lastVariation.Untracked, nil
}

// computeBucketValue hashes the context into a number in [0, 1). A context that has no
// individual context of the right kind, or whose bucketing attribute is missing or of an
// unbucketable type, gets bucket zero rather than an error.
func (es *evaluationScope) computeBucketValue(
	seed ldvalue.OptionalInt,
	contextKind ldcontext.Kind,
	key string,
	attr ldattr.Ref,
	salt string,
) (float64, error) {
	if contextKind == "" {
		contextKind = ldcontext.DefaultKind
	}
	if !attr.IsDefined() {
		attr = ldattr.NewLiteralRef(ldattr.KeyAttr)
	} else if attr.Err() != nil {
		return 0, badAttrRefError(attr.String())
	}

	individual := es.context.IndividualContextByKind(contextKind)
	if !individual.IsDefined() {
		return 0, nil
	}
	idHash, ok := bucketableStringValue(individual.GetValueForRef(attr))
	if !ok {
		return 0, nil
	}

	var prefix string
	if seed.IsDefined() {
		prefix = strconv.Itoa(seed.OrElse(0))
	} else {
		prefix = key + "." + salt
	}
	hash := sha1.Sum([]byte(prefix + "." + idHash)) //nolint:gosec
	hexEncoded := hex.EncodeToString(hash[:])
	intVal, _ := strconv.ParseInt(hexEncoded[:15], 16, 64)
	return float64(intVal) / longScale, nil
}

func bucketableStringValue(v ldvalue.Value) (string, bool) {
	if v.Type() == ldvalue.StringType {
		return v.StringValue(), true
	}
	if v.IsInt() {
		return strconv.Itoa(v.IntValue()), true
	}
	return "", false
}
