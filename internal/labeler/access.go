package labeler

import (
	"context"
	"fmt"

	authorizationv1 "k8s.io/api/authorization/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

// CanPatchNode asks the API server, via SelfSubjectAccessReview, whether the
// agent's service account may patch the named node. Callers skip the
// labeler when it may not, instead of failing every reconcile.
func CanPatchNode(ctx context.Context, client kubernetes.Interface, nodeName string) (bool, error) {
	review := &authorizationv1.SelfSubjectAccessReview{
		Spec: authorizationv1.SelfSubjectAccessReviewSpec{
			ResourceAttributes: &authorizationv1.ResourceAttributes{
				Verb:     "patch",
				Resource: "nodes",
				Name:     nodeName,
			},
		},
	}

	result, err := client.AuthorizationV1().SelfSubjectAccessReviews().Create(ctx, review, metav1.CreateOptions{})
	if err != nil {
		return false, fmt.Errorf("labeler: access review for patch nodes/%s: %w", nodeName, err)
	}
	return result.Status.Allowed, nil
}
