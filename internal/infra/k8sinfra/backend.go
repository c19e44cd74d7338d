// Package k8sinfra implements internal/infra.Backend on Kubernetes, one
// namespace per app. Core objects (Namespace, Deployment, Service, Secret,
// PersistentVolumeClaim) go through sigs.k8s.io/controller-runtime's typed
// client.Client; Traefik's IngressRoute and Middleware CRDs have no typed
// Go bindings here, so they are built as unstructured.Unstructured objects
// and applied through k8s.io/client-go/dynamic instead.
package k8sinfra

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"prevant/internal/apierr"
	"prevant/internal/domain"
	"prevant/internal/infra"
)

var (
	ingressRouteGVR = schema.GroupVersionResource{Group: "traefik.io", Version: "v1alpha1", Resource: "ingressroutes"}
	middlewareGVR   = schema.GroupVersionResource{Group: "traefik.io", Version: "v1alpha1", Resource: "middlewares"}
)

const (
	labelApp     = "prevant.io/app"
	labelService = "prevant.io/service"
	labelType    = "prevant.io/type"

	annotationOwners = "prevant.io/owners"
)

// Backend implements infra.Backend, one Kubernetes Namespace per app.
type Backend struct {
	client           client.Client
	clientset        kubernetes.Interface
	dynamicClient    dynamic.Interface
	namespacePrefix  string
	memoryLimitBytes int64
}

// New wraps an already-configured controller-runtime client, a raw
// clientset (used only for pod log streaming, which controller-runtime's
// client does not expose), and a dynamic client (used only for the Traefik
// IngressRoute/Middleware CRDs, which have no typed Go bindings here).
func New(c client.Client, clientset kubernetes.Interface, dynamicClient dynamic.Interface, namespacePrefix string, memoryLimitBytes int64) *Backend {
	return &Backend{client: c, clientset: clientset, dynamicClient: dynamicClient, namespacePrefix: namespacePrefix, memoryLimitBytes: memoryLimitBytes}
}

func (b *Backend) namespace(app domain.AppName) string {
	return b.namespacePrefix + string(app)
}

// FetchApps lists every namespace-per-app this backend manages.
func (b *Backend) FetchApps(ctx context.Context) (map[domain.AppName][]domain.Service, error) {
	var namespaces corev1.NamespaceList
	if err := b.client.List(ctx, &namespaces, client.HasLabels{labelApp}); err != nil {
		return nil, wrapK8sErr(err)
	}

	out := make(map[domain.AppName][]domain.Service, len(namespaces.Items))
	for _, ns := range namespaces.Items {
		app := domain.AppName(ns.Labels[labelApp])
		services, err := b.fetchAppServices(ctx, app)
		if err != nil {
			return nil, err
		}
		out[app] = services
	}
	return out, nil
}

func (b *Backend) fetchAppServices(ctx context.Context, app domain.AppName) ([]domain.Service, error) {
	var deployments appsv1.DeploymentList
	if err := b.client.List(ctx, &deployments, client.InNamespace(b.namespace(app))); err != nil {
		if apierrors.IsNotFound(err) {
			return nil, nil
		}
		return nil, wrapK8sErr(err)
	}

	out := make([]domain.Service, 0, len(deployments.Items))
	for _, d := range deployments.Items {
		image := ""
		if len(d.Spec.Template.Spec.Containers) > 0 {
			image = d.Spec.Template.Spec.Containers[0].Image
		}
		out = append(out, domain.Service{
			Name:  d.Labels[labelService],
			Type:  domain.ServiceType(d.Labels[labelType]),
			Image: image,
			State: deploymentState(d),
			URL:   fmt.Sprintf("/%s/%s/", app, d.Labels[labelService]),
		})
	}
	return out, nil
}

func deploymentState(d appsv1.Deployment) domain.ServiceState {
	if d.Status.ReadyReplicas > 0 {
		return domain.StateRunning
	}
	if d.Spec.Replicas != nil && *d.Spec.Replicas == 0 {
		return domain.StatePaused
	}
	if d.Status.Replicas > 0 {
		return domain.StateStarting
	}
	return domain.StateUnknown
}

// FetchAppOwners reads the namespace's owners annotation.
func (b *Backend) FetchAppOwners(ctx context.Context, app domain.AppName) ([]domain.Owner, error) {
	var ns corev1.Namespace
	if err := b.client.Get(ctx, client.ObjectKey{Name: b.namespace(app)}, &ns); err != nil {
		if apierrors.IsNotFound(err) {
			return nil, nil
		}
		return nil, wrapK8sErr(err)
	}
	raw, ok := ns.Annotations[annotationOwners]
	if !ok || raw == "" {
		return nil, nil
	}
	var owners []domain.Owner
	if err := json.Unmarshal([]byte(raw), &owners); err != nil {
		return nil, apierr.Wrap(apierr.KindBackendPermanent, "owners annotation is not valid JSON", err)
	}
	return owners, nil
}

// WriteAppOwners patches the namespace's owners annotation.
func (b *Backend) WriteAppOwners(ctx context.Context, app domain.AppName, owners []domain.Owner) error {
	encoded, err := json.Marshal(owners)
	if err != nil {
		return apierr.Wrap(apierr.KindBackendPermanent, "failed to encode owners", err)
	}
	var ns corev1.Namespace
	if err := b.client.Get(ctx, client.ObjectKey{Name: b.namespace(app)}, &ns); err != nil {
		return wrapK8sErr(err)
	}
	patch := client.MergeFrom(ns.DeepCopy())
	if ns.Annotations == nil {
		ns.Annotations = map[string]string{}
	}
	ns.Annotations[annotationOwners] = string(encoded)
	if err := b.client.Patch(ctx, &ns, patch); err != nil {
		return wrapK8sErr(err)
	}
	return nil
}

func (b *Backend) ensureNamespace(ctx context.Context, app domain.AppName) error {
	ns := &corev1.Namespace{
		ObjectMeta: metav1.ObjectMeta{
			Name:   b.namespace(app),
			Labels: map[string]string{labelApp: string(app)},
		},
	}
	if err := b.client.Create(ctx, ns); err != nil && !apierrors.IsAlreadyExists(err) {
		return wrapK8sErr(err)
	}
	return nil
}

// DeployServices reconciles desired against the app namespace's
// Deployments following a fixed remove/add/update ordering.
func (b *Backend) DeployServices(ctx context.Context, app domain.AppName, desired []domain.ServiceConfig, dctx infra.DeployContext) ([]domain.Service, error) {
	if err := b.ensureNamespace(ctx, app); err != nil {
		return nil, err
	}

	current, err := b.fetchAppServices(ctx, app)
	if err != nil {
		return nil, err
	}

	plan := infra.Diff(desired, current)
	if err := infra.RunPhased(ctx, plan, 8,
		func(ctx context.Context, svc domain.Service) error { return b.removeDeployment(ctx, app, svc.Name) },
		func(ctx context.Context, cfg domain.ServiceConfig) error { return b.applyDeployment(ctx, app, cfg) },
		func(ctx context.Context, c infra.Change) error { return b.applyDeployment(ctx, app, c.Desired) },
	); err != nil {
		return nil, err
	}

	return b.fetchAppServices(ctx, app)
}

func (b *Backend) removeDeployment(ctx context.Context, app domain.AppName, service string) error {
	d := &appsv1.Deployment{ObjectMeta: metav1.ObjectMeta{Name: service, Namespace: b.namespace(app)}}
	if err := b.client.Delete(ctx, d); err != nil && !apierrors.IsNotFound(err) {
		return wrapK8sErr(err)
	}
	svc := &corev1.Service{ObjectMeta: metav1.ObjectMeta{Name: service, Namespace: b.namespace(app)}}
	if err := b.client.Delete(ctx, svc); err != nil && !apierrors.IsNotFound(err) {
		return wrapK8sErr(err)
	}
	return nil
}

func (b *Backend) applyDeployment(ctx context.Context, app domain.AppName, cfg domain.ServiceConfig) error {
	labels := make(map[string]string, len(cfg.Labels)+3)
	for k, v := range cfg.Labels {
		labels[k] = v
	}
	labels[labelApp] = string(app)
	labels[labelService] = cfg.ServiceName
	labels[labelType] = string(cfg.Type)

	secret, fileMounts, fileVolumes := buildFilesSecret(app, b.namespace(app), cfg)
	if secret != nil {
		if err := b.applyFilesSecret(ctx, secret); err != nil {
			return err
		}
	}

	claims, volMounts, volVolumes := buildVolumeClaims(app, b.namespace(app), cfg)
	for _, claim := range claims {
		if err := b.applyVolumeClaim(ctx, claim); err != nil {
			return err
		}
	}

	mounts := append(fileMounts, volMounts...)
	volumes := append(fileVolumes, volVolumes...)

	deployment := &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{Name: cfg.ServiceName, Namespace: b.namespace(app), Labels: labels},
		Spec: appsv1.DeploymentSpec{
			Selector: &metav1.LabelSelector{MatchLabels: map[string]string{labelService: cfg.ServiceName}},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{
						{
							Name:         cfg.ServiceName,
							Image:        cfg.Image,
							Env:          toEnvVars(cfg.Env),
							Resources:    toResourceRequirements(cfg.MemoryLimitBytes, b.memoryLimitBytes),
							Ports:        toContainerPorts(cfg.Ports),
							VolumeMounts: mounts,
						},
					},
					Volumes: volumes,
				},
			},
		},
	}

	var existing appsv1.Deployment
	err := b.client.Get(ctx, client.ObjectKey{Name: cfg.ServiceName, Namespace: b.namespace(app)}, &existing)
	switch {
	case apierrors.IsNotFound(err):
		if err := b.client.Create(ctx, deployment); err != nil {
			return wrapK8sErr(err)
		}
	case err != nil:
		return wrapK8sErr(err)
	default:
		deployment.ResourceVersion = existing.ResourceVersion
		if err := b.client.Update(ctx, deployment); err != nil {
			return wrapK8sErr(err)
		}
	}

	if err := b.applyService(ctx, app, cfg); err != nil {
		return err
	}
	return b.applyTraefikRouting(ctx, app, cfg)
}

func (b *Backend) applyService(ctx context.Context, app domain.AppName, cfg domain.ServiceConfig) error {
	if len(cfg.Ports) == 0 {
		return nil
	}
	svc := &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:      cfg.ServiceName,
			Namespace: b.namespace(app),
			Labels:    map[string]string{labelApp: string(app), labelService: cfg.ServiceName},
		},
		Spec: corev1.ServiceSpec{
			Selector: map[string]string{labelService: cfg.ServiceName},
			Ports:    toServicePorts(cfg.Ports),
		},
	}
	var existing corev1.Service
	err := b.client.Get(ctx, client.ObjectKey{Name: cfg.ServiceName, Namespace: b.namespace(app)}, &existing)
	switch {
	case apierrors.IsNotFound(err):
		return wrapK8sErr(b.client.Create(ctx, svc))
	case err != nil:
		return wrapK8sErr(err)
	default:
		svc.ResourceVersion = existing.ResourceVersion
		svc.Spec.ClusterIP = existing.Spec.ClusterIP
		return wrapK8sErr(b.client.Update(ctx, svc))
	}
}

const filesVolumeName = "files"

func filesSecretName(serviceName string) string {
	return serviceName + "-files"
}

// buildFilesSecret turns cfg.Files (mount path -> content) into the Secret
// object holding that content plus the VolumeMount/Volume pair that maps
// each key back onto its original absolute path via subPath. Secret keys
// are assigned by sorted-path index so a repeat call with the same Files
// produces byte-identical output (required for applyFilesSecret's
// create-or-update to be idempotent). Returns a nil secret when cfg has no
// declared files.
func buildFilesSecret(app domain.AppName, namespace string, cfg domain.ServiceConfig) (*corev1.Secret, []corev1.VolumeMount, []corev1.Volume) {
	if len(cfg.Files) == 0 {
		return nil, nil, nil
	}

	paths := make([]string, 0, len(cfg.Files))
	for p := range cfg.Files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	data := make(map[string][]byte, len(paths))
	mounts := make([]corev1.VolumeMount, 0, len(paths))
	for i, p := range paths {
		key := fmt.Sprintf("f%d", i)
		data[key] = []byte(cfg.Files[p])
		mounts = append(mounts, corev1.VolumeMount{Name: filesVolumeName, MountPath: p, SubPath: key, ReadOnly: true})
	}

	secretName := filesSecretName(cfg.ServiceName)
	secret := &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{
			Name:      secretName,
			Namespace: namespace,
			Labels:    map[string]string{labelApp: string(app), labelService: cfg.ServiceName},
		},
		Data: data,
	}
	volumes := []corev1.Volume{{
		Name:         filesVolumeName,
		VolumeSource: corev1.VolumeSource{Secret: &corev1.SecretVolumeSource{SecretName: secretName}},
	}}
	return secret, mounts, volumes
}

// applyFilesSecret creates or updates the Secret built by buildFilesSecret.
func (b *Backend) applyFilesSecret(ctx context.Context, secret *corev1.Secret) error {
	var existing corev1.Secret
	err := b.client.Get(ctx, client.ObjectKey{Name: secret.Name, Namespace: secret.Namespace}, &existing)
	switch {
	case apierrors.IsNotFound(err):
		return wrapK8sErr(b.client.Create(ctx, secret))
	case err != nil:
		return wrapK8sErr(err)
	default:
		secret.ResourceVersion = existing.ResourceVersion
		return wrapK8sErr(b.client.Update(ctx, secret))
	}
}

func volumeClaimName(serviceName, volumeName string) string {
	return serviceName + "-" + volumeName
}

// buildVolumeClaims turns cfg.Volumes into a PersistentVolumeClaim per
// volume (only when cfg.StorageStrategy requests persistence) plus the
// VolumeMount/Volume pair wiring each claim into the pod. Claims are
// applied with get-or-create only (see applyVolumeClaim): a PVC already
// bound to data from a prior deployment of this service is left alone
// rather than replaced, so redeploys preserve whatever the previous
// container instance wrote to it.
func buildVolumeClaims(app domain.AppName, namespace string, cfg domain.ServiceConfig) ([]*corev1.PersistentVolumeClaim, []corev1.VolumeMount, []corev1.Volume) {
	if cfg.StorageStrategy != domain.StorageMountDeclaredImageVols || len(cfg.Volumes) == 0 {
		return nil, nil, nil
	}

	claims := make([]*corev1.PersistentVolumeClaim, 0, len(cfg.Volumes))
	mounts := make([]corev1.VolumeMount, 0, len(cfg.Volumes))
	volumes := make([]corev1.Volume, 0, len(cfg.Volumes))
	for _, v := range cfg.Volumes {
		claimName := volumeClaimName(cfg.ServiceName, v.Name)
		claims = append(claims, &corev1.PersistentVolumeClaim{
			ObjectMeta: metav1.ObjectMeta{
				Name:      claimName,
				Namespace: namespace,
				Labels:    map[string]string{labelApp: string(app), labelService: cfg.ServiceName},
			},
			Spec: corev1.PersistentVolumeClaimSpec{
				AccessModes: []corev1.PersistentVolumeAccessMode{corev1.ReadWriteOnce},
				Resources: corev1.VolumeResourceRequirements{
					Requests: corev1.ResourceList{corev1.ResourceStorage: *resourceQuantity(1 << 30)},
				},
			},
		})
		mounts = append(mounts, corev1.VolumeMount{Name: v.Name, MountPath: v.MountPath, SubPath: v.SubPath})
		volumes = append(volumes, corev1.Volume{
			Name:         v.Name,
			VolumeSource: corev1.VolumeSource{PersistentVolumeClaim: &corev1.PersistentVolumeClaimVolumeSource{ClaimName: claimName}},
		})
	}
	return claims, mounts, volumes
}

// applyVolumeClaim creates the claim if absent and otherwise leaves it
// untouched — PersistentVolumeClaims are immutable in the fields that
// matter here, and a redeploy must not discard a volume's prior contents.
func (b *Backend) applyVolumeClaim(ctx context.Context, claim *corev1.PersistentVolumeClaim) error {
	var existing corev1.PersistentVolumeClaim
	err := b.client.Get(ctx, client.ObjectKey{Name: claim.Name, Namespace: claim.Namespace}, &existing)
	switch {
	case apierrors.IsNotFound(err):
		return wrapK8sErr(b.client.Create(ctx, claim))
	case err != nil:
		return wrapK8sErr(err)
	default:
		return nil
	}
}

func traefikRouterName(app domain.AppName, cfg domain.ServiceConfig) string {
	return fmt.Sprintf("%s-%s", app, cfg.ServiceName)
}

// buildTraefikMiddlewares mirrors dockerinfra's addRoutingLabels: one
// Middleware strips the app/service path prefix, a second restores it as
// X-Forwarded-Prefix so the service can still build prefix-correct links.
func buildTraefikMiddlewares(app domain.AppName, namespace string, cfg domain.ServiceConfig) []*unstructured.Unstructured {
	name := traefikRouterName(app, cfg)
	prefix := fmt.Sprintf("/%s/%s", app, cfg.ServiceName)
	labels := map[string]interface{}{labelApp: string(app), labelService: cfg.ServiceName}

	strip := &unstructured.Unstructured{Object: map[string]interface{}{
		"apiVersion": "traefik.io/v1alpha1",
		"kind":       "Middleware",
		"metadata": map[string]interface{}{
			"name":      name + "-stripprefix",
			"namespace": namespace,
			"labels":    labels,
		},
		"spec": map[string]interface{}{
			"stripPrefix": map[string]interface{}{
				"prefixes": []interface{}{prefix},
			},
		},
	}}

	forwarded := &unstructured.Unstructured{Object: map[string]interface{}{
		"apiVersion": "traefik.io/v1alpha1",
		"kind":       "Middleware",
		"metadata": map[string]interface{}{
			"name":      name + "-forwardedprefix",
			"namespace": namespace,
			"labels":    labels,
		},
		"spec": map[string]interface{}{
			"headers": map[string]interface{}{
				"customRequestHeaders": map[string]interface{}{
					"X-Forwarded-Prefix": prefix,
				},
			},
		},
	}}

	return []*unstructured.Unstructured{strip, forwarded}
}

// buildTraefikIngressRoute builds the IngressRoute routing app/service's
// path prefix to cfg's Kubernetes Service, chained through the Middlewares
// from buildTraefikMiddlewares. A custom cfg.Routing.Rule overrides the
// default PathPrefix rule, matching dockerinfra's addRoutingLabels.
func buildTraefikIngressRoute(app domain.AppName, namespace string, cfg domain.ServiceConfig) *unstructured.Unstructured {
	name := traefikRouterName(app, cfg)
	rule := fmt.Sprintf("PathPrefix(`/%s/%s/`)", app, cfg.ServiceName)
	if cfg.Routing != nil && cfg.Routing.Rule != "" {
		rule = cfg.Routing.Rule
	}

	return &unstructured.Unstructured{Object: map[string]interface{}{
		"apiVersion": "traefik.io/v1alpha1",
		"kind":       "IngressRoute",
		"metadata": map[string]interface{}{
			"name":      name,
			"namespace": namespace,
			"labels":    map[string]interface{}{labelApp: string(app), labelService: cfg.ServiceName},
		},
		"spec": map[string]interface{}{
			"entryPoints": []interface{}{"web"},
			"routes": []interface{}{
				map[string]interface{}{
					"kind":  "Rule",
					"match": rule,
					"services": []interface{}{
						map[string]interface{}{"name": cfg.ServiceName, "port": firstPort(cfg.Ports)},
					},
					"middlewares": []interface{}{
						map[string]interface{}{"name": name + "-stripprefix"},
						map[string]interface{}{"name": name + "-forwardedprefix"},
					},
				},
			},
		},
	}}
}

func firstPort(ports []domain.PortSpec) int {
	if len(ports) == 0 {
		return 0
	}
	return ports[0].Number
}

// applyTraefikRouting applies the Middleware/IngressRoute pair for cfg
// through the dynamic client. A service with no published ports has
// nothing to route to, matching applyService's own port gating.
func (b *Backend) applyTraefikRouting(ctx context.Context, app domain.AppName, cfg domain.ServiceConfig) error {
	if len(cfg.Ports) == 0 {
		return nil
	}
	namespace := b.namespace(app)
	for _, mw := range buildTraefikMiddlewares(app, namespace, cfg) {
		if err := b.applyUnstructured(ctx, middlewareGVR, mw); err != nil {
			return err
		}
	}
	return b.applyUnstructured(ctx, ingressRouteGVR, buildTraefikIngressRoute(app, namespace, cfg))
}

func (b *Backend) applyUnstructured(ctx context.Context, gvr schema.GroupVersionResource, obj *unstructured.Unstructured) error {
	ns := obj.GetNamespace()
	name := obj.GetName()
	rc := b.dynamicClient.Resource(gvr).Namespace(ns)

	existing, err := rc.Get(ctx, name, metav1.GetOptions{})
	switch {
	case apierrors.IsNotFound(err):
		_, err := rc.Create(ctx, obj, metav1.CreateOptions{})
		return wrapK8sErr(err)
	case err != nil:
		return wrapK8sErr(err)
	default:
		obj.SetResourceVersion(existing.GetResourceVersion())
		_, err := rc.Update(ctx, obj, metav1.UpdateOptions{})
		return wrapK8sErr(err)
	}
}

func toEnvVars(env map[string]domain.EnvVar) []corev1.EnvVar {
	out := make([]corev1.EnvVar, 0, len(env))
	for k, v := range env {
		out = append(out, corev1.EnvVar{Name: k, Value: v.Value})
	}
	return out
}

func toResourceRequirements(serviceLimit, defaultLimit int64) corev1.ResourceRequirements {
	limit := serviceLimit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit <= 0 {
		return corev1.ResourceRequirements{}
	}
	qty := *resourceQuantity(limit)
	return corev1.ResourceRequirements{Limits: corev1.ResourceList{corev1.ResourceMemory: qty}}
}

func toContainerPorts(ports []domain.PortSpec) []corev1.ContainerPort {
	out := make([]corev1.ContainerPort, 0, len(ports))
	for _, p := range ports {
		out = append(out, corev1.ContainerPort{ContainerPort: int32(p.Number), Protocol: toProtocol(p.Protocol)})
	}
	return out
}

func toServicePorts(ports []domain.PortSpec) []corev1.ServicePort {
	out := make([]corev1.ServicePort, 0, len(ports))
	for _, p := range ports {
		out = append(out, corev1.ServicePort{
			Name:       fmt.Sprintf("port-%d", p.Number),
			Port:       int32(p.Number),
			TargetPort: intOrString(p.Number),
			Protocol:   toProtocol(p.Protocol),
		})
	}
	return out
}

func toProtocol(proto string) corev1.Protocol {
	if proto == "udp" {
		return corev1.ProtocolUDP
	}
	return corev1.ProtocolTCP
}

// DeleteApp removes the app's entire namespace.
func (b *Backend) DeleteApp(ctx context.Context, app domain.AppName) ([]domain.Service, error) {
	current, err := b.fetchAppServices(ctx, app)
	if err != nil {
		return nil, err
	}
	ns := &corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: b.namespace(app)}}
	if err := b.client.Delete(ctx, ns); err != nil && !apierrors.IsNotFound(err) {
		return nil, wrapK8sErr(err)
	}
	return current, nil
}

// ChangeServiceStatus scales the Deployment to 0 (paused) or 1 (running).
func (b *Backend) ChangeServiceStatus(ctx context.Context, app domain.AppName, service string, target domain.ServiceState) error {
	var d appsv1.Deployment
	if err := b.client.Get(ctx, client.ObjectKey{Name: service, Namespace: b.namespace(app)}, &d); err != nil {
		return wrapK8sErr(err)
	}
	var replicas int32
	switch target {
	case domain.StateRunning:
		replicas = 1
	case domain.StatePaused:
		replicas = 0
	default:
		return apierr.New(apierr.KindInvalidPayload, fmt.Sprintf("unsupported target state %q", target))
	}
	patch := client.MergeFrom(d.DeepCopy())
	d.Spec.Replicas = &replicas
	return wrapK8sErr(b.client.Patch(ctx, &d, patch))
}

// StreamLogs tails the first pod backing the named Deployment's selector.
func (b *Backend) StreamLogs(ctx context.Context, app domain.AppName, service string, since *time.Time, follow bool) (<-chan infra.LogLine, error) {
	var pods corev1.PodList
	if err := b.client.List(ctx, &pods, client.InNamespace(b.namespace(app)), client.MatchingLabels{labelService: service}); err != nil {
		return nil, wrapK8sErr(err)
	}
	if len(pods.Items) == 0 {
		return nil, apierr.New(apierr.KindInvalidPayload, fmt.Sprintf("service %q not found in app %q", service, app))
	}

	opts := &corev1.PodLogOptions{Follow: follow, Timestamps: true}
	if since != nil {
		t := metav1.NewTime(*since)
		opts.SinceTime = &t
	}
	req := b.clientset.CoreV1().Pods(b.namespace(app)).GetLogs(pods.Items[0].Name, opts)
	stream, err := req.Stream(ctx)
	if err != nil {
		return nil, wrapK8sErr(err)
	}

	out := make(chan infra.LogLine)
	go func() {
		defer close(out)
		defer stream.Close()
		scan := newLineScanner(stream)
		for scan.Scan() {
			out <- parseTimestampedLine(scan.Text())
		}
	}()
	return out, nil
}

// BackupApp captures the app namespace's Deployments and Services as an
// opaque JSON blob. Secrets, PersistentVolumeClaims and the Traefik objects
// are not included, and neither are the declared ServiceConfigs.
func (b *Backend) BackupApp(ctx context.Context, app domain.AppName) ([]byte, error) {
	var deployments appsv1.DeploymentList
	if err := b.client.List(ctx, &deployments, client.InNamespace(b.namespace(app))); err != nil {
		return nil, wrapK8sErr(err)
	}
	var services corev1.ServiceList
	if err := b.client.List(ctx, &services, client.InNamespace(b.namespace(app))); err != nil {
		return nil, wrapK8sErr(err)
	}

	blob := backupPayload{Deployments: deployments.Items, Services: services.Items}
	data, err := json.Marshal(blob)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindBackendPermanent, "failed to encode backup payload", err)
	}
	return data, nil
}

type backupPayload struct {
	Deployments []appsv1.Deployment `json:"deployments"`
	Services    []corev1.Service    `json:"services"`
}

// RestoreApp re-applies a previously captured backup payload.
func (b *Backend) RestoreApp(ctx context.Context, app domain.AppName, payload []byte) ([]domain.Service, error) {
	var blob backupPayload
	if err := json.Unmarshal(payload, &blob); err != nil {
		return nil, apierr.Wrap(apierr.KindInvalidPayload, "backup payload is not valid JSON", err)
	}
	if err := b.ensureNamespace(ctx, app); err != nil {
		return nil, err
	}
	for _, d := range blob.Deployments {
		d.ResourceVersion = ""
		d.Namespace = b.namespace(app)
		if err := b.client.Create(ctx, &d); err != nil && !apierrors.IsAlreadyExists(err) {
			return nil, wrapK8sErr(err)
		}
	}
	for _, s := range blob.Services {
		s.ResourceVersion = ""
		s.Spec.ClusterIP = ""
		s.Namespace = b.namespace(app)
		if err := b.client.Create(ctx, &s); err != nil && !apierrors.IsAlreadyExists(err) {
			return nil, wrapK8sErr(err)
		}
	}
	return b.fetchAppServices(ctx, app)
}

func wrapK8sErr(err error) error {
	if err == nil {
		return nil
	}
	if apierrors.IsNotFound(err) {
		return apierr.Wrap(apierr.KindInvalidPayload, "resource not found", err)
	}
	if apierrors.IsConflict(err) || apierrors.IsServerTimeout(err) || apierrors.IsTimeout(err) {
		return apierr.Wrap(apierr.KindBackendTransient, "kubernetes API transient error", err)
	}
	return apierr.Wrap(apierr.KindBackendPermanent, "kubernetes API error", err)
}
